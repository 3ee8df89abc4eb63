package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/dkeye/voicecall/internal/adapters/media"
	"github.com/dkeye/voicecall/internal/adapters/notify"
	"github.com/dkeye/voicecall/internal/adapters/rtc"
	"github.com/dkeye/voicecall/internal/adapters/signal"
	"github.com/dkeye/voicecall/internal/app/call"
	"github.com/dkeye/voicecall/internal/app/presence"
	"github.com/dkeye/voicecall/internal/auth"
	"github.com/dkeye/voicecall/internal/config"
	"github.com/dkeye/voicecall/internal/core"
	"github.com/dkeye/voicecall/internal/domain"
	"github.com/dkeye/voicecall/internal/logging"
	"github.com/dkeye/voicecall/internal/ui"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	flagUID   string
	flagToken string
	flagURL   string
	flagCodec string
	flagDeny  bool
)

const runHelp = `Connect to the relay and read commands from stdin.

Commands:
  call <uid> [audio|video]   place a call
  accept | decline           answer the incoming call
  hangup                     end the current call
  mute | unmute              toggle the microphone
  video on|off               toggle the camera
  who                        list known users
  status                     show the current call
  away | back                set presence
  quit                       hang up and exit

Examples:
  callctl run --token "$(callctl token alice)"
  callctl run --uid bob --codec msgpack`

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start an interactive call client",
	Long:  runHelp,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadFile(flagConfig)
		if err != nil {
			return err
		}
		applyRunFlags(cmd, cfg)
		logging.Init(cfg.Log.Level, cfg.Log.Pretty)
		return runClient(cmd, cfg, os.Stdin, cmd.OutOrStdout())
	},
}

func init() {
	f := runCmd.Flags()
	f.StringVar(&flagUID, "uid", "", "user id (anonymous relays only)")
	f.StringVar(&flagToken, "token", "", "signaling token")
	f.StringVar(&flagURL, "url", "", "relay websocket url")
	f.StringVar(&flagCodec, "codec", "", "frame codec: json or msgpack")
	f.BoolVar(&flagDeny, "deny-media", false, "simulate a denied camera/microphone prompt")
}

func applyRunFlags(cmd *cobra.Command, cfg *config.Config) {
	if flagUID != "" {
		cfg.Client.UID = flagUID
	}
	if flagToken != "" {
		cfg.Client.Token = flagToken
	}
	if flagURL != "" {
		cfg.Signal.URL = flagURL
	}
	if flagCodec != "" {
		cfg.Signal.Codec = flagCodec
	}
	if cmd.Flags().Changed("deny-media") {
		cfg.Media.Deny = flagDeny
	}
}

// identity prefers the token's subject over client.uid.
func identity(cfg *config.Config) (domain.UserID, error) {
	if cfg.Client.Token != "" {
		return auth.Peek(cfg.Client.Token)
	}
	if cfg.Client.UID != "" {
		return domain.ParseUserID(cfg.Client.UID)
	}
	return "", errors.New("no identity: pass --token or --uid")
}

func runClient(cmd *cobra.Command, cfg *config.Config, in io.Reader, out io.Writer) error {
	ctx := cmd.Context()
	uid, err := identity(cfg)
	if err != nil {
		return err
	}
	cfg.Client.UID = string(uid)

	opts, err := signal.ClientOptionsFromConfig(cfg)
	if err != nil {
		return err
	}
	tracker := presence.NewTracker()
	opts.Presence = tracker
	tr := signal.NewWSTransport(opts)
	tr.Start()
	defer tr.Close()

	factory, err := rtc.NewFactory(rtc.SettingsFromConfig(cfg.ICE))
	if err != nil {
		return err
	}
	source := media.NewSource(cfg.Media)

	ctl, err := call.New(call.Options{
		Auth:      core.StaticAuth(uid),
		Transport: tr,
		Presence:  tracker,
		Media:     source,
		Factory:   factory,
		Notifier: notify.NewLog(func(ringing bool, caller string, video bool) {
			if ringing {
				fmt.Fprint(out, "\a")
			}
		}),
		Directory:   core.IDDirectory{},
		Timeouts:    call.TimeoutsFromConfig(cfg.Call),
		SendTimeout: cfg.Signal.SendTimeout,
	})
	if err != nil {
		return err
	}
	ctl.Start()
	defer ctl.Close()

	if flagConfig != "" {
		err := config.Watch(flagConfig, func(next *config.Config) {
			ctl.SetTimeouts(call.TimeoutsFromConfig(next.Call))
			source.Apply(next.Media)
		})
		if err != nil {
			log.Warn().Err(err).Str("module", "callctl").Msg("hot reload disabled")
		}
	}

	snaps, unsubscribe := ctl.Subscribe()
	defer unsubscribe()
	go func() {
		for s := range snaps {
			fmt.Fprintln(out, ui.StatusLine(s))
		}
	}()

	ui.PrintInfo(out, fmt.Sprintf("signed in as %s, type 'help' for commands", uid))
	sh := &shell{ctl: ctl, tracker: tracker, presence: tr, out: out}

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			quit, err := sh.exec(ctx, line)
			if err != nil {
				ui.PrintError(out, err.Error())
			}
			if quit {
				return nil
			}
		}
	}
}
