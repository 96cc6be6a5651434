package gate

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"docharvest/pkg/browser"
	errs "docharvest/pkg/errors"
	"docharvest/pkg/logger"
)

// Confirmer performs the affirmative action on a gate page.
type Confirmer interface {
	Confirm(ctx context.Context, b browser.Browser) error
	Name() string
}

// Auto clicks a control labelled with one of Labels.
type Auto struct {
	Labels []string
}

func (a Auto) Name() string { return "auto" }

func (a Auto) Confirm(ctx context.Context, b browser.Browser) error {
	ok, err := b.Confirm(ctx, a.Labels)
	if err != nil {
		return err
	}
	if !ok {
		return errs.New(errs.ErrorTypeGateFailed,
			fmt.Sprintf("no confirmation control labelled %s", strings.Join(quoteAll(a.Labels), " or ")))
	}
	return nil
}

func quoteAll(ss []string) []string {
	out := make([]string, len(ss))
	for i, s := range ss {
		out[i] = fmt.Sprintf("%q", s)
	}
	return out
}

// Prompt tries Auto first and then hands over to the operator, who
// confirms in the visible window and presses Enter.
type Prompt struct {
	Auto   Auto
	In     *os.File
	Out    io.Writer
	Logger logger.Logger
	// IsTerminal overrides terminal detection, for tests.
	IsTerminal func(fd int) bool
}

func (p *Prompt) Name() string { return "prompt" }

func (p *Prompt) Confirm(ctx context.Context, b browser.Browser) error {
	err := p.Auto.Confirm(ctx, b)
	if err == nil || ctx.Err() != nil {
		return err
	}
	if p.Logger != nil {
		p.Logger.WarnWithFields("automatic confirmation failed, waiting for operator", map[string]interface{}{
			"error": err.Error(),
		})
	}

	isTerminal := p.IsTerminal
	if isTerminal == nil {
		isTerminal = term.IsTerminal
	}
	if p.In == nil || !isTerminal(int(p.In.Fd())) {
		return errs.Wrap(errs.ErrorTypeGateFailed, "gate needs manual confirmation but stdin is not a terminal", err)
	}

	out := p.Out
	if out == nil {
		out = os.Stdout
	}
	ShowGateInstructions(out, p.Auto.Labels)
	return waitForEnter(ctx, p.In)
}

func waitForEnter(ctx context.Context, in io.Reader) error {
	done := make(chan error, 1)
	go func() {
		_, err := bufio.NewReader(in).ReadString('\n')
		done <- err
	}()
	select {
	case err := <-done:
		if err != nil && err != io.EOF {
			return errs.Wrap(errs.ErrorTypeGateFailed, "failed to read confirmation", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// FailFast refuses to clear the gate without an operator.
type FailFast struct{}

func (FailFast) Name() string { return "fail-fast" }

func (FailFast) Confirm(ctx context.Context, b browser.Browser) error {
	return errs.New(errs.ErrorTypeGateFailed,
		"age verification required: run once with --headed to confirm it in the browser window, then rerun headless")
}

// Select picks the strategy for a run. A headed browser can fall back on
// the operator; a headless one only retries a confirmation that worked
// before.
func Select(headed, previouslyCleared bool, labels []string, in *os.File, out io.Writer, log logger.Logger) Confirmer {
	switch {
	case headed:
		return &Prompt{Auto: Auto{Labels: labels}, In: in, Out: out, Logger: log}
	case previouslyCleared:
		return Auto{Labels: labels}
	default:
		return FailFast{}
	}
}
