// cmd/eightsync/main.go
//
// The terminal client. One goroutine owns the lobby, the session and the
// rendering; stdin and the peer channel both feed it through channels, so
// the game state never needs a lock.
package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/joho/godotenv/autoload"
	"github.com/sirupsen/logrus"

	"eightsync/internal/config"
	"eightsync/internal/deck"
	"eightsync/internal/engine"
	"eightsync/internal/game"
	"eightsync/internal/history"
	"eightsync/internal/lobby"
	"eightsync/internal/netsync"
	"eightsync/internal/protocol"
	"eightsync/internal/stats"
	"eightsync/internal/transport"
)

func main() {
	var (
		relayURL = flag.String("relay", config.Env("RELAY_URL", "http://localhost:8080"), "relay base URL")
		roomStr  = flag.String("room", "", "room id to join (empty creates a new room)")
		passcode = flag.String("passcode", "", "room passcode")
		name     = flag.String("name", config.Env("PLAYER_NAME", "player"), "display name")
		handSize = flag.Int("hand-size", 7, "cards dealt to each player")
		drawPlay = flag.Bool("draw-then-play", false, "keep the turn after a voluntary draw")
		noStack  = flag.Bool("no-stack", false, "disable stacking draw-two penalties")
		statsDB  = flag.String("stats", config.Env("STATS_DB", "eightsync-stats.db"), "path to the local stats database")
		verbose  = flag.Bool("v", false, "debug logging")
	)
	flag.Parse()

	log := logrus.New()
	log.SetLevel(logrus.WarnLevel)
	if *verbose {
		log.SetLevel(logrus.DebugLevel)
	}

	rules := engine.DefaultRules()
	rules.HandSize = *handSize
	rules.DrawThenPlay = *drawPlay
	rules.StackDraws = !*noStack

	cl := &client{
		log:   logrus.NewEntry(log),
		rules: rules,
		name:  *name,
	}
	if err := cl.run(*relayURL, *roomStr, *passcode, *statsDB); err != nil {
		fmt.Fprintf(os.Stderr, "eightsync: %v\n", err)
		os.Exit(1)
	}
}

type client struct {
	log   *logrus.Entry
	rules engine.Rules
	name  string

	ch      transport.PeerChannel
	lobby   *lobby.Lobby
	eng     *engine.Engine
	session *netsync.Session
	store   *stats.Store
	rec     netsync.Recorder

	recorded bool
}

func (c *client) run(relayURL, roomStr, passcode, statsPath string) error {
	roomID, err := c.ensureRoom(relayURL, roomStr, passcode)
	if err != nil {
		return err
	}

	token, err := joinRoom(relayURL, roomID, passcode)
	if err != nil {
		return err
	}

	wsURL := strings.Replace(relayURL, "http", "ws", 1) + "/room/ws"
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	ch, err := transport.DialRelay(ctx, wsURL, token, c.log)
	cancel()
	if err != nil {
		return err
	}
	defer ch.Close()
	c.ch = ch

	if store, err := stats.Open(statsPath); err != nil {
		c.log.WithError(err).Warn("stats disabled")
	} else {
		c.store = store
		defer store.Close()
	}

	// Recording is optional: without Redis the match simply is not archived.
	if rec, err := history.Connect(); err != nil {
		c.log.WithError(err).Debug("history recording disabled")
	} else {
		c.rec = rec
		defer rec.Close()
	}

	c.lobby = lobby.New(ch, c.name, c.log)
	if err := c.lobby.Announce(); err != nil {
		return err
	}

	fmt.Printf("room %s: waiting for players; type /start when everyone is in\n", roomID)

	lines := make(chan string)
	go readLines(lines)

	// The tick loop. Everything below this point runs on one goroutine.
	for {
		select {
		case ev, ok := <-ch.Events():
			if !ok {
				return fmt.Errorf("connection to relay lost")
			}
			if err := c.handleEvent(ev); err != nil {
				return err
			}
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if quit := c.handleLine(line); quit {
				return nil
			}
		}
	}
}

// ensureRoom creates a room when none was given.
func (c *client) ensureRoom(relayURL, roomStr, passcode string) (uuid.UUID, error) {
	if roomStr != "" {
		id, err := uuid.Parse(roomStr)
		if err != nil {
			return uuid.Nil, fmt.Errorf("bad room id: %w", err)
		}
		return id, nil
	}
	id, err := createRoom(relayURL, passcode)
	if err != nil {
		return uuid.Nil, err
	}
	fmt.Printf("created room %s\n", id)
	return id, nil
}

func (c *client) handleEvent(ev transport.Event) error {
	if c.session == nil {
		start, err := c.lobby.HandleEvent(ev)
		if err != nil {
			return err
		}
		if start != nil {
			return c.beginMatch(*start)
		}
		return nil
	}

	err := c.session.HandleEvent(ev)
	if err != nil {
		return err
	}
	c.afterApply()
	return nil
}

func (c *client) beginMatch(start protocol.Start) error {
	c.eng = engine.New(c.rules)
	state, err := c.eng.SetupMatch(start)
	if err != nil {
		return err
	}
	c.session = netsync.NewSession(c.eng, c.ch, state, c.rec, c.log)
	c.recorded = false
	fmt.Println("match started")
	c.render()
	return nil
}

func (c *client) handleLine(line string) (quit bool) {
	fields := strings.Fields(strings.TrimSpace(line))
	if len(fields) == 0 {
		return false
	}
	cmd := strings.ToLower(fields[0])

	switch cmd {
	case "/quit", "quit", "exit":
		return true
	case "/start":
		if c.session != nil {
			fmt.Println("the match is already running")
			return false
		}
		// Our own broadcast does not loop back; set up from the returned payload.
		start, err := c.lobby.Start(c.rules, time.Now().UnixNano())
		if err != nil {
			fmt.Println(err)
			return false
		}
		if err := c.beginMatch(start); err != nil {
			fmt.Println(err)
		}
		return false
	case "/rematch":
		if c.session == nil || c.session.State().Phase != game.PhaseGameOver {
			fmt.Println("rematch is only available after a match ends")
			return false
		}
		start, err := c.lobby.Rematch(c.rules, time.Now().UnixNano())
		if err != nil {
			fmt.Println(err)
			return false
		}
		if err := c.beginMatch(start); err != nil {
			fmt.Println(err)
		}
		return false
	case "/stats":
		c.printStandings()
		return false
	}

	if c.session == nil {
		fmt.Println("commands: /start /stats /quit")
		return false
	}

	switch cmd {
	case "hand", "table", "show":
		c.render()
	case "play":
		c.cmdPlay(fields[1:])
	case "draw":
		c.propose(c.drawAction())
	case "pass":
		c.propose(protocol.PassTurn())
	case "color":
		if len(fields) < 2 {
			fmt.Println("usage: color <red|green|yellow|blue>")
			return false
		}
		col, ok := parseColor(fields[1])
		if !ok {
			fmt.Println("colors: red green yellow blue")
			return false
		}
		c.propose(protocol.DeclareColor(col))
	default:
		fmt.Println("commands: play <n> [color], draw, pass, color <c>, hand, /stats, /quit")
	}
	return false
}

func (c *client) cmdPlay(args []string) {
	if len(args) < 1 {
		fmt.Println("usage: play <card number> [color]")
		return
	}
	idx, err := strconv.Atoi(args[0])
	if err != nil {
		fmt.Println("usage: play <card number> [color]")
		return
	}
	hand := c.myHand()
	if idx < 1 || idx > len(hand) {
		fmt.Printf("pick a card between 1 and %d\n", len(hand))
		return
	}
	card := hand[idx-1]

	a := protocol.PlayCard(card)
	if len(args) >= 2 {
		col, ok := parseColor(args[1])
		if !ok {
			fmt.Println("colors: red green yellow blue")
			return
		}
		a = protocol.PlayWild(card, col)
	}
	c.propose(a)
}

func (c *client) drawAction() protocol.Action {
	return c.eng.PrepareDraw(c.session.State(), time.Now().UnixNano())
}

func (c *client) propose(a protocol.Action) {
	_, err := c.session.Propose(a)
	if err != nil {
		var ill *engine.IllegalActionError
		if errors.As(err, &ill) {
			fmt.Printf("no: %s\n", ill.Error())
			return
		}
		fmt.Printf("error: %v\n", err)
		return
	}
	if err := c.session.ShareDigest(); err != nil {
		c.log.WithError(err).Warn("digest broadcast failed")
	}
	c.afterApply()
}

// afterApply rerenders and, when the match just ended, records the result.
func (c *client) afterApply() {
	s := c.session.State()
	c.render()
	if s.Phase != game.PhaseGameOver || c.recorded {
		return
	}
	c.recorded = true
	winner := s.PlayerByID(s.Winner)
	fmt.Printf("*** %s wins! type /rematch to play again ***\n", winner.Name)
	if c.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		err := c.store.RecordResult(ctx, stats.Result{
			MatchID:    s.MatchID,
			Winner:     s.Winner,
			WinnerName: winner.Name,
			Players:    len(s.Players),
			Turns:      s.Seq,
			FinishedAt: time.Now(),
		})
		if err != nil {
			c.log.WithError(err).Warn("stats record failed")
		}
		var losers []string
		for _, p := range s.Players {
			if p.ID != s.Winner {
				losers = append(losers, p.Name)
			}
		}
		if err := c.store.ApplyMatchRatings(ctx, winner.Name, losers); err != nil {
			c.log.WithError(err).Warn("rating update failed")
		}
	}
}

func (c *client) printStandings() {
	if c.store == nil {
		fmt.Println("stats are disabled")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	standings, err := c.store.Standings(ctx)
	if err != nil {
		fmt.Printf("error: %v\n", err)
		return
	}
	if len(standings) == 0 {
		fmt.Println("no matches recorded yet")
		return
	}
	ratings, err := c.store.Ratings(ctx)
	if err != nil {
		fmt.Printf("error: %v\n", err)
		return
	}
	elo := make(map[string]float64, len(ratings))
	for _, r := range ratings {
		elo[r.Name] = r.Elo
	}
	for i, st := range standings {
		fmt.Printf("%2d. %-20s %d wins  (%.0f)\n", i+1, st.Name, st.Wins, elo[st.Name])
	}
}

func (c *client) myHand() []deck.Card {
	p := c.session.State().PlayerByID(c.ch.Self())
	if p == nil {
		return nil
	}
	return p.Hand
}

func (c *client) render() {
	s := c.session.State()
	snap := s.SnapshotFor(c.ch.Self())

	if snap.DiscardTop != nil {
		if snap.DiscardTop.IsWild() && snap.ActiveColor != "" {
			fmt.Printf("top: %v (color: %s)\n", *snap.DiscardTop, snap.ActiveColor)
		} else {
			fmt.Printf("top: %v\n", *snap.DiscardTop)
		}
	}
	for _, p := range snap.Players {
		marker := "  "
		if p.IsCurrentTurn {
			marker = "->"
		}
		fmt.Printf("%s %-20s %d cards\n", marker, p.Name, p.HandSize)
	}
	if snap.PendingDraw > 0 {
		fmt.Printf("pending draw: %d\n", snap.PendingDraw)
	}
	if s.Phase == game.PhaseAwaitingColor && snap.CurrentPlayerID == c.ch.Self() {
		fmt.Println("declare a color: color <red|green|yellow|blue>")
	}
	for i, card := range c.myHand() {
		fmt.Printf("  %2d) %v\n", i+1, card)
	}
}

func parseColor(s string) (deck.Color, bool) {
	switch strings.ToLower(s) {
	case "r", "red":
		return deck.Red, true
	case "g", "green":
		return deck.Green, true
	case "y", "yellow":
		return deck.Yellow, true
	case "b", "blue":
		return deck.Blue, true
	}
	return deck.Wild, false
}

func readLines(out chan<- string) {
	sc := bufio.NewScanner(os.Stdin)
	for sc.Scan() {
		out <- sc.Text()
	}
	close(out)
}

// createRoom and joinRoom talk to the relay's HTTP API.

func createRoom(relayURL, passcode string) (uuid.UUID, error) {
	body, _ := json.Marshal(map[string]string{"passcode": passcode})
	resp, err := http.Post(relayURL+"/room/create", "application/json", bytes.NewReader(body))
	if err != nil {
		return uuid.Nil, fmt.Errorf("create room: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return uuid.Nil, fmt.Errorf("create room: relay returned %s", resp.Status)
	}
	var out struct {
		RoomID uuid.UUID `json:"room_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return uuid.Nil, fmt.Errorf("create room: %w", err)
	}
	return out.RoomID, nil
}

func joinRoom(relayURL string, roomID uuid.UUID, passcode string) (string, error) {
	body, _ := json.Marshal(map[string]interface{}{"room_id": roomID, "passcode": passcode})
	resp, err := http.Post(relayURL+"/room/join", "application/json", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("join room: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("join room: relay returned %s", resp.Status)
	}
	var out struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("join room: %w", err)
	}
	return out.Token, nil
}
