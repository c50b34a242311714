package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/sendrec/portal/internal/challenge"
	"github.com/sendrec/portal/internal/content"
	"github.com/sendrec/portal/internal/playback"
	"github.com/sendrec/portal/internal/portal"
	"github.com/sendrec/portal/internal/refresh"
)

const helpText = `commands:
  sections                   list sections
  items [section-id]         list videos, optionally for one section
  open section|video <id>    ask for access, prompting for a password if needed
  password <text>            answer the open password prompt
  cancel                     close the password prompt
  play <ref> | stop          report playback of a media element
  go <route>                 navigate, e.g. /watch/v1 or /sections
  refresh                    refresh the catalog now
  lock                       forget every unlocked section and video
  broadcast [clear]          signal every session to refresh
  status                     show session state
  quit`

type repl struct {
	session *portal.Session
	out     io.Writer
}

func newREPL(session *portal.Session, out io.Writer) *repl {
	return &repl{session: session, out: out}
}

func (r *repl) run(ctx context.Context, in io.Reader) error {
	scanner := bufio.NewScanner(in)
	r.printf("type help for commands\n")
	for {
		r.printf("> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		if done := r.exec(ctx, scanner.Text()); done {
			return nil
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

// exec runs one command line and reports whether the loop should stop.
func (r *repl) exec(ctx context.Context, line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}

	cmd, args := fields[0], fields[1:]
	switch cmd {
	case "help":
		r.printf("%s\n", helpText)
	case "sections":
		r.listSections()
	case "items":
		r.listItems(args)
	case "open":
		r.open(ctx, args)
	case "password":
		r.submit(ctx, strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), "password")))
	case "cancel":
		r.session.Challenges.Cancel()
		r.printf("prompt closed\n")
	case "play":
		if len(args) != 1 {
			r.printf("usage: play <ref>\n")
			return false
		}
		r.session.Play(playback.ElementRef(args[0]))
		r.printf("playing %s, refresh %s\n", args[0], r.session.Refresh.State())
	case "stop":
		r.session.Stop()
		r.printf("stopped, refresh %s\n", r.session.Refresh.State())
	case "go":
		if len(args) != 1 {
			r.printf("usage: go <route>\n")
			return false
		}
		r.session.Navigate(args[0])
		r.printf("at %s, refresh %s\n", args[0], r.session.Refresh.State())
	case "refresh":
		r.refresh(ctx)
	case "lock":
		r.session.LockAll()
		r.printf("all sections and videos locked\n")
	case "broadcast":
		clearCache := len(args) == 1 && args[0] == "clear"
		if err := r.session.BroadcastRefresh(ctx, clearCache); err != nil {
			r.printf("broadcast failed: %v\n", err)
			return false
		}
		r.printf("refresh signal sent\n")
	case "status":
		r.status()
	case "quit", "exit":
		return true
	default:
		r.printf("unknown command %q, type help\n", cmd)
	}
	return false
}

func (r *repl) listSections() {
	sections := r.session.Sections()
	if len(sections) == 0 {
		r.printf("no sections\n")
		return
	}
	for _, s := range sections {
		r.printf("%-12s %-8s %s\n", s.ID, r.lockLabel(content.KindSection, s.ID, s.HasPassword), s.Title)
	}
}

func (r *repl) listItems(args []string) {
	items := r.session.Items()
	if len(args) == 1 {
		items = r.session.ItemsInSection(args[0])
	}
	if len(items) == 0 {
		r.printf("no videos\n")
		return
	}
	for _, it := range items {
		r.printf("%-12s %-12s %-8s %s\n", it.ID, it.SectionID, r.lockLabel(content.KindVideo, it.ID, it.HasPassword), it.Title)
	}
}

func (r *repl) lockLabel(kind content.Kind, id string, hasPassword bool) string {
	switch {
	case !hasPassword:
		return "open"
	case r.session.IsUnlocked(kind, id):
		return "unlocked"
	default:
		return "locked"
	}
}

func (r *repl) open(ctx context.Context, args []string) {
	if len(args) != 2 {
		r.printf("usage: open section|video <id>\n")
		return
	}

	var (
		decision challenge.Decision
		err      error
	)
	switch content.Kind(args[0]) {
	case content.KindSection:
		decision, err = r.session.OpenSection(ctx, args[1])
	case content.KindVideo:
		decision, err = r.session.OpenVideo(ctx, args[1])
	default:
		r.printf("usage: open section|video <id>\n")
		return
	}

	if errors.Is(err, content.ErrNotFound) {
		r.printf("%s %s not found\n", args[0], args[1])
		return
	}
	if err != nil {
		r.printf("could not check access: %v\n", err)
	}
	if decision == challenge.Open {
		r.printf("%s %s is open\n", args[0], args[1])
		return
	}
	r.printf("%s %s is protected, enter: password <text>\n", args[0], args[1])
}

func (r *repl) submit(ctx context.Context, candidate string) {
	prompt, err := r.session.SubmitPassword(ctx, candidate)
	if errors.Is(err, challenge.ErrNoPrompt) {
		r.printf("no password prompt is open\n")
		return
	}

	switch prompt.Status {
	case challenge.Granted:
		r.printf("%s %s unlocked\n", prompt.Kind, prompt.ItemID)
	case challenge.AutoGranted:
		r.printf("%s %s is no longer protected\n", prompt.Kind, prompt.ItemID)
	default:
		r.printf("%s\n", prompt.Error)
	}
}

func (r *repl) refresh(ctx context.Context) {
	err := r.session.RefreshNow(ctx)
	switch {
	case errors.Is(err, refresh.ErrSuspended):
		r.printf("refresh is paused while media is playing or a video is open\n")
	case err != nil:
		r.printf("refresh failed: %v\n", err)
	default:
		r.printf("catalog refreshed: %d sections, %d videos\n", len(r.session.Sections()), len(r.session.Items()))
	}
}

func (r *repl) status() {
	r.printf("session:   %s\n", r.session.ID)
	r.printf("refresh:   %s\n", r.session.Refresh.State())
	if last := r.session.Refresh.LastRefreshed(); !last.IsZero() {
		r.printf("refreshed: %s\n", last.Format("15:04:05"))
	}
	if active := r.session.Playback.Active(); active != "" {
		r.printf("playing:   %s\n", active)
	}
	if prompt, ok := r.session.Challenges.Current(); ok {
		r.printf("prompt:    %s %s (%s)\n", prompt.Kind, prompt.ItemID, prompt.Status)
	}
	if snap, ok := r.session.Reconciler.Previous(); ok {
		r.printf("protected: %d/%d sections, %d/%d videos\n",
			countProtected(snap.Sections), len(snap.Sections), countProtected(snap.Videos), len(snap.Videos))
	}
	r.printf("unlocked:  sections %v, videos %v\n", r.session.Unlocks.UnlockedSections(), r.session.Unlocks.UnlockedVideos())
}

func countProtected(flags map[string]bool) int {
	n := 0
	for _, protected := range flags {
		if protected {
			n++
		}
	}
	return n
}

func (r *repl) printf(format string, args ...any) {
	fmt.Fprintf(r.out, format, args...)
}
