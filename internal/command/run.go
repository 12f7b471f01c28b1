package command

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"motochefe-engagement/internal/clock"
	"motochefe-engagement/internal/config"
	"motochefe-engagement/internal/presence"
	"motochefe-engagement/internal/simulate"
	"motochefe-engagement/internal/tracker"
)

const beaconLinger = 5 * time.Second

// NewRunCmd creates the run command.
func NewRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Replay a scripted lesson and report engagement to the collector",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("config")
			cfg, err := config.LoadTracker(path)
			if err != nil {
				return err
			}
			if token, _ := cmd.Flags().GetString("token"); token != "" {
				cfg.Token = token
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			transport := tracker.NewHTTPTransport(cfg.ServerURL, cfg.Token, nil)
			sess := newSession(cfg, clock.Real{}, transport, &presence.ModelCache{})
			sess.tracker.Start(ctx)
			status := sess.run(ctx, cmd.OutOrStdout())
			transport.Wait(beaconLinger)

			if status.Error != presence.ErrCodeNone {
				fmt.Fprintf(cmd.ErrOrStderr(), "presence tracking was unavailable: %s\n", status.Error)
			}
			return nil
		},
	}

	cmd.Flags().String("config", "tracker.yaml", "path to the tracker YAML config")
	cmd.Flags().String("token", "", "bearer token (overrides the config file)")

	return cmd
}

type session struct {
	clock    clock.Clock
	timeline *simulate.Timeline
	player   *simulate.Player
	tracker  *tracker.Tracker
}

func newSession(cfg *config.TrackerConfig, clk clock.Clock, sender tracker.Sender, models *presence.ModelCache) *session {
	steps := make([]simulate.Step, 0, len(cfg.Script))
	for _, s := range cfg.Script {
		steps = append(steps, simulate.Step{Face: s.Face, For: s.For})
	}
	timeline := simulate.NewTimeline(clk.Now(), steps)
	model := &simulate.Model{Timeline: timeline}

	cam := &simulate.Camera{Clock: clk}
	switch {
	case cfg.Camera.DenyPermission:
		cam.Err = presence.ErrPermissionDenied
	case cfg.Camera.Unavailable:
		cam.Err = presence.ErrCameraUnavailable
	}

	player := simulate.NewPlayer(clk, cfg.Video.Length)
	tr := tracker.New(cam, player, sender, tracker.Config{
		CourseID:      cfg.CourseID,
		LessonID:      cfg.LessonID,
		FlushInterval: cfg.FlushInterval,
		Clock:         clk,
		Presence: presence.Options{
			PollInterval:  cfg.Presence.PollInterval,
			GracePeriod:   cfg.Presence.GracePeriod,
			MinConfidence: cfg.Presence.MinConfidence,
			Load:          model.Loader(),
			Models:        models,
		},
	})

	return &session{clock: clk, timeline: timeline, player: player, tracker: tr}
}

// run plays the lesson until the video ends, the script runs out or ctx is
// cancelled, then tears the tracker down and returns its last status.
func (s *session) run(ctx context.Context, out io.Writer) tracker.Status {
	ticker := s.clock.NewTicker(time.Second)
	defer ticker.Stop()

	end := s.timeline.End()
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-s.tracker.Done():
			break loop
		case <-ticker.C():
			st := s.tracker.Status()
			fmt.Fprintf(out, "video=%6.1fs presence=%-7s paused=%-5t pending=%d\n",
				s.player.CurrentTime(), st.Presence.State, s.player.Paused(), st.Pending)
			if s.player.Ended() {
				s.tracker.Recorder().PlaybackEnded()
				break loop
			}
			if !s.clock.Now().Before(end) {
				break loop
			}
		}
	}

	last := s.tracker.Status()
	s.tracker.Stop()
	fmt.Fprintf(out, "session over: video=%.1fs pauses=%d error=%q\n", s.player.CurrentTime(), s.player.Pauses(), last.Error)
	return last
}
