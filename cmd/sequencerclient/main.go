// Command sequencerclient is a headless reference client: it connects to a
// coordinatord session, keeps a local state mirror in sync, and plays the
// pattern through a local audio device. It exists to exercise the same
// transport/clientsync/scheduler/audio stack a browser client would use, the
// way the teacher's TestUser exercises the voice-chat client stack headless.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/adewale/keyboardia/internal/audio"
	"github.com/adewale/keyboardia/internal/clientsync"
	"github.com/adewale/keyboardia/internal/clocksync"
	"github.com/adewale/keyboardia/internal/model"
	"github.com/adewale/keyboardia/internal/protocol"
	"github.com/adewale/keyboardia/internal/scheduler"
	"github.com/adewale/keyboardia/internal/transport"
)

func main() {
	addr := flag.String("addr", "localhost:8090", "coordinator host:port")
	sessionID := flag.String("session", "demo", "session id to join")
	clientID := flag.String("client-id", "", "stable client id (random if empty)")
	displayName := flag.String("name", "sequencerclient", "display name (logged locally; not sent to the coordinator)")
	outputDevice := flag.Int("output-device", -1, "PortAudio output device index (-1 = system default)")
	demo := flag.Bool("demo", true, "seed a demo kick pattern and start playback if the session is empty")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLogLevel(*logLevel),
	})))

	if *clientID == "" {
		*clientID = uuid.NewString()
	}

	engine := audio.New()
	engine.SetOutputDevice(*outputDevice)
	if err := engine.Start(); err != nil {
		slog.Error("start audio engine", "error", err)
		os.Exit(1)
	}
	defer engine.Stop()

	wsURL := fmt.Sprintf("ws://%s/session/%s", *addr, *sessionID)
	tr := transport.New(wsURL, *sessionID, *clientID)

	c := newClient(tr, engine, *demo)
	tr.SetOnEnvelope(c.onEnvelope)
	tr.SetOnStateChange(func(s transport.State) {
		slog.Info("transport state changed", "state", s.String())
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	go func() {
		<-sigCh
		slog.Info("shutting down")
		cancel()
	}()

	go c.syncer.Run(ctx)
	go c.runScheduler(ctx)

	slog.Info("connecting", "url", wsURL, "client_id", *clientID, "display_name", *displayName)
	tr.Run(ctx)
}

// client wires the connection's inbound envelope handling to the local
// state reducer and, once the first snapshot establishes a mirror, the
// look-ahead scheduler.
type client struct {
	tr     *transport.Transport
	engine *audio.Engine
	syncer *clocksync.Syncer
	demo   bool

	mu       sync.Mutex
	reducer  *clientsync.Reducer
	sched    *scheduler.Scheduler
	schedRun bool
}

func newClient(tr *transport.Transport, engine *audio.Engine, demo bool) *client {
	c := &client{tr: tr, engine: engine, demo: demo}
	c.syncer = clocksync.NewSyncer(func(clientTimeMs uint64) {
		_ = tr.Send(protocol.Envelope{Type: protocol.TypePing, ClientTimeMs: clientTimeMs})
	})
	return c
}

func (c *client) onEnvelope(env protocol.Envelope) {
	switch env.Type {
	case protocol.TypeSnapshot:
		c.onSnapshot(env.Snapshot)

	case protocol.TypeApplied:
		c.mu.Lock()
		r := c.reducer
		c.mu.Unlock()
		if r == nil {
			return
		}
		if err := r.OnApplied(env.Op, env.Payload, env.StateSeq); err != nil {
			slog.Warn("apply remote mutation", "error", err)
		}

	case protocol.TypeAck:
		c.mu.Lock()
		r := c.reducer
		c.mu.Unlock()
		if r != nil {
			r.OnAck(env.ClientOpID, env.StateSeq)
		}
		c.tr.OnAck(env.ClientOpID)

	case protocol.TypeNack:
		c.mu.Lock()
		r := c.reducer
		c.mu.Unlock()
		if r != nil {
			if err := r.OnNack(env.ClientOpID, env.Reason); err != nil {
				slog.Warn("mutation rejected", "error", err)
			}
		}
		c.tr.OnNack(env.ClientOpID)

	case protocol.TypePong:
		// Both the clock syncer's own 5s ping and the transport's 30s
		// keepalive ping ride the same envelope type. A clock-sync
		// ClientTimeMs is always PerfNowMs (session uptime in ms); a
		// keepalive one is wall-clock UnixMilli, which dwarfs it — so a
		// pong whose echoed ClientTimeMs exceeds our own current PerfNowMs
		// by more than a one-second slack can only be a keepalive pong, and
		// is skipped here.
		if env.ClientTimeMs <= uint64(c.syncer.Estimator.PerfNowMs())+1000 {
			c.syncer.Estimator.OnPong(env.ClientTimeMs, env.ServerTimeMs)
		}

	case protocol.TypePresence:
		slog.Info("presence", "connected", len(env.Connected))

	case protocol.TypeHashResult:
		if !env.Matched {
			slog.Debug("hash mismatch reported by coordinator")
		}
	}
}

func (c *client) onSnapshot(raw json.RawMessage) {
	var sess model.Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		slog.Error("unmarshal snapshot", "error", err)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.reducer == nil {
		c.reducer = clientsync.NewReducer(&sess)
		c.sched = scheduler.New(c.syncer.Estimator, c.engine, c.reducer.Mirror)
		slog.Info("session established", "tracks", len(sess.Tracks), "tempo", sess.Tempo)
		if c.demo && len(sess.Tracks) == 0 {
			go c.seedDemoPattern()
		}
		return
	}
	c.reducer.OnSnapshot(&sess)
}

// seedDemoPattern adds one kick track with a basic four-on-the-floor
// pattern and starts playback, so running this binary against an empty
// session produces audible output without a browser client attached.
func (c *client) seedDemoPattern() {
	track := model.NewTrack("kick-1", "Kick", "kick-808")
	emit := func(op string, payload any) {
		b, err := json.Marshal(payload)
		if err != nil {
			slog.Error("marshal demo payload", "op", op, "error", err)
			return
		}
		clientOpID := uuid.NewString()
		c.mu.Lock()
		err = c.reducer.LocalEmit(clientOpID, op, b)
		c.mu.Unlock()
		if err != nil {
			slog.Warn("local emit failed", "op", op, "error", err)
			return
		}
		_ = c.tr.Send(protocol.Envelope{Type: protocol.TypeMutate, ClientOpID: clientOpID, Op: op, Payload: b})
	}

	emit(protocol.OpAddTrack, protocol.AddTrackPayload{Track: protocol.TrackPayload{
		ID: track.ID, Name: track.Name, SampleID: track.SampleID,
		Volume: 1.0, StepCount: 16, PlaybackMode: string(model.PlaybackOneshot),
	}})
	for _, step := range []int{0, 4, 8, 12} {
		emit(protocol.OpToggleStep, protocol.ToggleStepPayload{TrackID: track.ID, Step: step})
	}

	c.mu.Lock()
	c.sched.Start(c.syncer.Estimator.CoordinatorNowMs())
	c.schedRun = true
	c.mu.Unlock()
	slog.Info("demo pattern seeded and playing")
}

func (c *client) runScheduler(ctx context.Context) {
	ticker := time.NewTicker(scheduler.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			sched := c.sched
			running := c.schedRun
			c.mu.Unlock()
			if sched != nil && running {
				sched.Tick()
			}
		}
	}
}

func parseLogLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
