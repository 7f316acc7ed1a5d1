// Command pawcall is a headless call client: it dials the relay,
// owns one call session service and either places a call or waits for
// one, printing state snapshots as they arrive.
package main

import (
	"context"
	"flag"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/petmatch/pawcall/internal/adapters/device"
	"github.com/petmatch/pawcall/internal/adapters/media"
	"github.com/petmatch/pawcall/internal/adapters/rtc"
	wsignal "github.com/petmatch/pawcall/internal/adapters/signal"
	"github.com/petmatch/pawcall/internal/call"
	"github.com/petmatch/pawcall/internal/config"
	"github.com/petmatch/pawcall/internal/domain"
)

func main() {
	var (
		name   = flag.String("name", "guest", "display name announced to the relay")
		userID = flag.String("user", "", "stable user id (defaults to a fresh one)")
		callee = flag.String("call", "", "user id to call; empty means wait for incoming calls")
		video  = flag.Bool("video", false, "place a video call instead of voice")
	)
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	self, err := domain.NewUser(*name)
	if err != nil {
		log.Fatal().Err(err).Msg("bad display name")
	}
	if *userID != "" {
		self.ID = domain.UserID(*userID)
	}

	bridge, err := wsignal.Dial(ctx, cfg.RelayURL, *self, cfg.PingPeriod)
	if err != nil {
		log.Fatal().Err(err).Msg("relay dial failed")
	}
	defer bridge.Close()

	sink := call.NewHTTPHistory(historyEndpoint(cfg.RelayURL), nil)
	svc := call.NewService(
		*self,
		bridge,
		media.NewController(cfg.Media, 1),
		rtc.NewEngineFactory(cfg.ICEServers),
		device.NewController(),
		sink,
		call.Options{},
	)
	defer svc.Dispose()

	states, cancelStates := svc.SubscribeStates(16)
	defer cancelStates()
	errs, cancelErrs := svc.SubscribeErrors(16)
	defer cancelErrs()

	if *callee != "" {
		kind := domain.KindVoice
		if *video {
			kind = domain.KindVideo
		}
		id, err := svc.StartCall(domain.UserID(*callee), kind)
		if err != nil {
			log.Fatal().Err(err).Msg("start call failed")
		}
		log.Info().Str("call_id", string(id)).Msg("calling")
	} else {
		log.Info().Str("user", string(self.ID)).Msg("waiting for incoming calls")
	}

	for {
		select {
		case <-ctx.Done():
			return
		case snap := <-states:
			log.Info().
				Str("call_id", string(snap.CallID)).
				Str("state", snap.StateName).
				Int("duration", snap.DurationSeconds).
				Bool("muted", snap.IsMuted).
				Msg("call state")
			if snap.State == domain.StateIncomingRinging {
				// Headless client auto-answers.
				if err := svc.AnswerCall(); err != nil {
					log.Warn().Err(err).Msg("answer failed")
				}
			}
		case ev := <-errs:
			log.Error().Err(ev.Err).Str("call_id", string(ev.CallID)).Msg("call error")
		}
	}
}

// historyEndpoint derives the relay's history API from its ws URL.
func historyEndpoint(relayURL string) string {
	u, err := url.Parse(relayURL)
	if err != nil {
		return "http://localhost:8080/api/calls/history"
	}
	switch u.Scheme {
	case "wss":
		u.Scheme = "https"
	default:
		u.Scheme = "http"
	}
	u.Path = "/api/calls/history"
	u.RawQuery = ""
	return strings.TrimSuffix(u.String(), "/")
}
