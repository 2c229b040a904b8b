package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/akinalp/mqvicall/call"
	"github.com/akinalp/mqvicall/models"
)

// controller, console'un Manager'dan kullandığı kısım (testte sahte verilir).
type controller interface {
	Decide(ctx context.Context, accept bool) error
	EndCall(triggeredRemotely, isRejection bool)
	ToggleMic() (enabled bool, ok bool)
	ToggleCamera() (enabled bool, ok bool)
}

// console, stdin komutlarını Manager'a çevirir ve state değişimlerini yazar.
type console struct {
	ctl        controller
	out        io.Writer
	autoAccept bool

	mu      sync.Mutex
	phase   models.CallPhase
	inCall  bool
	endedCh chan struct{}
	once    sync.Once
}

func newConsole(ctl controller, out io.Writer) *console {
	return &console{ctl: ctl, out: out, phase: models.CallPhaseIdle, endedCh: make(chan struct{})}
}

// onState, Manager observer'ı.
func (c *console) onState(st call.State) {
	c.mu.Lock()
	prev := c.phase
	c.phase = st.Phase
	if st.Phase != models.CallPhaseIdle && st.Phase != models.CallPhaseEnded {
		c.inCall = true
	}
	wasInCall := c.inCall
	c.mu.Unlock()

	if st.Invite != nil && prev != st.Phase && st.Phase == models.CallPhaseIncomingRinging {
		fmt.Fprintf(c.out, "incoming %s call from %s (%s)\n", st.Invite.Kind, st.Invite.FromDisplayName, st.Invite.From)
		if c.autoAccept {
			go func() { _ = c.ctl.Decide(context.Background(), true) }()
		}
	}
	if st.Phase != prev {
		fmt.Fprintf(c.out, "phase: %s\n", st.Phase)
	}
	if st.Phase == models.CallPhaseIdle && wasInCall {
		c.once.Do(func() { close(c.endedCh) })
	}
}

// run, komut döngüsü. exitOnEnd ise ilk arama bitince döner.
func (c *console) run(ctx context.Context, in io.Reader, exitOnEnd bool) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- strings.TrimSpace(sc.Text()):
			case <-ctx.Done():
				return
			}
		}
	}()

	var ended <-chan struct{}
	if exitOnEnd {
		ended = c.endedCh
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ended:
			return nil
		case line, ok := <-lines:
			if !ok {
				// stdin kapandı (ör: pipe); arama bitene ya da sinyal gelene kadar bekle.
				lines = nil
				continue
			}
			if quit := c.exec(ctx, line); quit {
				c.ctl.EndCall(false, false)
				return nil
			}
		}
	}
}

func (c *console) exec(ctx context.Context, cmd string) (quit bool) {
	switch cmd {
	case "":
	case "accept", "a":
		if err := c.ctl.Decide(ctx, true); err != nil {
			fmt.Fprintf(c.out, "accept: %v\n", err)
		}
	case "reject", "r":
		if err := c.ctl.Decide(ctx, false); err != nil {
			fmt.Fprintf(c.out, "reject: %v\n", err)
		}
	case "hangup", "h":
		c.ctl.EndCall(false, false)
	case "mic", "m":
		if enabled, ok := c.ctl.ToggleMic(); ok {
			fmt.Fprintf(c.out, "microphone: %s\n", onOff(enabled))
		}
	case "cam", "c":
		if enabled, ok := c.ctl.ToggleCamera(); ok {
			fmt.Fprintf(c.out, "camera: %s\n", onOff(enabled))
		}
	case "quit", "q":
		return true
	default:
		fmt.Fprintf(c.out, "unknown command %q (accept, reject, hangup, mic, cam, quit)\n", cmd)
	}
	return false
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}
