// internal/stats/rating.go
//
// Local Glicko-2 ratings over the recorded matches. With no server to keep
// an authoritative ladder, every client rates the players it has seen, like
// a club notebook. Multiplayer matches approximate each player's opponent as
// the average of the rest of the table.
package stats

import (
	"context"
	"database/sql"
	"fmt"
	"math"
)

const (
	// glickoScale converts between the Elo-like display scale and Glicko-2's mu.
	glickoScale = 173.7178
	// defaultElo is the baseline rating for an unseen player.
	defaultElo = 1500.0
	// defaultPhi is the baseline rating deviation.
	defaultPhi = 350.0
	// defaultSigma is the baseline volatility.
	defaultSigma = 0.06
	// tau constrains volatility changes.
	tau = 0.5
	// epsilon is the volatility iteration stopping tolerance.
	epsilon = 0.000001
)

// Rating is one player's rating state on the display scale.
type Rating struct {
	Name  string
	Elo   float64
	Phi   float64
	Sigma float64
}

func defaultRating(name string) Rating {
	return Rating{Name: name, Elo: defaultElo, Phi: defaultPhi, Sigma: defaultSigma}
}

// ApplyMatchRatings updates every participant's rating for one finished
// match: the winner scores 1, everyone else 0.
func (s *Store) ApplyMatchRatings(ctx context.Context, winner string, losers []string) error {
	names := append([]string{winner}, losers...)
	if len(names) < 2 {
		return fmt.Errorf("ratings need at least 2 players")
	}
	ratings := make([]Rating, len(names))
	scores := make([]float64, len(names))
	scores[0] = 1
	for i, name := range names {
		r, err := s.getRating(ctx, name)
		if err != nil {
			return err
		}
		ratings[i] = r
	}

	for _, r := range updateGroup(ratings, scores) {
		if err := s.putRating(ctx, r); err != nil {
			return err
		}
	}
	return nil
}

// Ratings returns all known players, strongest first.
func (s *Store) Ratings(ctx context.Context) ([]Rating, error) {
	q := `SELECT name, elo, phi, sigma FROM ratings ORDER BY elo DESC, name ASC`
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("query ratings: %w", err)
	}
	defer rows.Close()

	var out []Rating
	for rows.Next() {
		var r Rating
		if err := rows.Scan(&r.Name, &r.Elo, &r.Phi, &r.Sigma); err != nil {
			return nil, fmt.Errorf("scan rating: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) getRating(ctx context.Context, name string) (Rating, error) {
	r := Rating{Name: name}
	err := s.db.QueryRowContext(ctx,
		`SELECT elo, phi, sigma FROM ratings WHERE name = ?`, name).
		Scan(&r.Elo, &r.Phi, &r.Sigma)
	if err == sql.ErrNoRows {
		return defaultRating(name), nil
	}
	if err != nil {
		return Rating{}, fmt.Errorf("get rating: %w", err)
	}
	return r, nil
}

func (s *Store) putRating(ctx context.Context, r Rating) error {
	q := `
		INSERT INTO ratings (name, elo, phi, sigma) VALUES (?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET elo=excluded.elo, phi=excluded.phi, sigma=excluded.sigma
	`
	if _, err := s.db.ExecContext(ctx, q, r.Name, r.Elo, r.Phi, r.Sigma); err != nil {
		return fmt.Errorf("put rating: %w", err)
	}
	return nil
}

// glicko2 holds a rating transformed into Glicko-2 space.
type glicko2 struct {
	mu    float64
	phi   float64
	sigma float64
}

func toGlicko2(r Rating) glicko2 {
	return glicko2{
		mu:    (r.Elo - defaultElo) / glickoScale,
		phi:   r.Phi / glickoScale,
		sigma: r.Sigma,
	}
}

func (g2 glicko2) toRating(name string) Rating {
	return Rating{
		Name:  name,
		Elo:   g2.mu*glickoScale + defaultElo,
		Phi:   g2.phi * glickoScale,
		Sigma: g2.sigma,
	}
}

// updateGroup applies a single-step update for a group given scores in
// [0..1]. Each player's opponent is the average of everyone else.
func updateGroup(ratings []Rating, scores []float64) []Rating {
	var totalElo float64
	for _, r := range ratings {
		totalElo += r.Elo
	}

	updated := make([]Rating, len(ratings))
	for i, r := range ratings {
		oppElo := (totalElo - r.Elo) / float64(len(ratings)-1)
		opp := toGlicko2(Rating{Elo: oppElo, Phi: defaultPhi, Sigma: defaultSigma})
		updated[i] = updateGlicko(toGlicko2(r), opp, scores[i]).toRating(r.Name)
	}
	return updated
}

// updateGlicko performs a single-match Glicko-2 update with volatility.
func updateGlicko(r, rOpp glicko2, score float64) glicko2 {
	gVal := g(rOpp.phi)
	eVal := expected(r.mu, rOpp.mu, rOpp.phi)

	v := 1.0 / (gVal * gVal * eVal * (1 - eVal))
	delta := v * gVal * (score - eVal)

	a := math.Log(r.sigma * r.sigma)
	A := a
	var B float64
	if delta*delta > r.phi*r.phi+v {
		B = math.Log(delta*delta - r.phi*r.phi - v)
	} else {
		k := 1.0
		for volF(a-k*tau, r.phi, v, delta, A) < 0 {
			k++
		}
		B = a - k*tau
	}

	fA := func(x float64) float64 {
		return volF(x, r.phi, v, delta, A)
	}

	fB := fA(B)
	for i := 0; i < 100; i++ {
		fAVal := fA(A)
		if math.Abs(fAVal) < epsilon {
			break
		}
		A1 := A
		A = A1 - fAVal*(A1-B)/(fAVal-fB)
		fB = fA(B)
		if math.Abs(A-B) < epsilon {
			break
		}
	}
	newSigma := math.Exp(A / 2)
	phiStar := math.Sqrt(r.phi*r.phi + newSigma*newSigma)
	phiPrime := 1.0 / math.Sqrt(1.0/(phiStar*phiStar)+1.0/v)
	muPrime := r.mu + phiPrime*phiPrime*gVal*(score-eVal)

	return glicko2{mu: muPrime, phi: phiPrime, sigma: newSigma}
}

// g is the G(phi) factor, 1/sqrt(1+3phi^2/pi^2).
func g(phi float64) float64 {
	return 1.0 / math.Sqrt(1.0+3.0*phi*phi/math.Pi/math.Pi)
}

// expected is the Glicko-2 expected score, 1/(1+exp[-g(phi2)*(mu-mu2)]).
func expected(mu, mu2, phi2 float64) float64 {
	return 1.0 / (1.0 + math.Exp(-g(phi2)*(mu-mu2)))
}

// volF is the volatility root-finding function.
func volF(x, phi, v, delta, a float64) float64 {
	ex := math.Exp(x)
	num := ex * (delta*delta - phi*phi - v - ex)
	den := 2.0 * (phi*phi + v + ex) * (phi*phi + v + ex)
	return (num / den) - ((x - a) / (tau * tau))
}
