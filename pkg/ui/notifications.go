package ui

import (
	"fmt"
	"os/exec"
	"runtime"
)

// NotificationSender delivers a desktop notification.
type NotificationSender interface {
	Send(title, message string) error
}

type linuxSender struct{}

func (linuxSender) Send(title, message string) error {
	return exec.Command("notify-send", title, message).Run()
}

type macSender struct{}

func (macSender) Send(title, message string) error {
	script := fmt.Sprintf("display notification %q with title %q", message, title)
	return exec.Command("osascript", "-e", script).Run()
}

// Notifier announces run completion on the desktop when the platform
// supports it.
type Notifier struct {
	sender NotificationSender
}

// NewNotifier picks a sender for the current platform. Unsupported
// platforms get a notifier that does nothing.
func NewNotifier() *Notifier {
	switch runtime.GOOS {
	case "linux":
		return &Notifier{sender: linuxSender{}}
	case "darwin":
		return &Notifier{sender: macSender{}}
	default:
		return &Notifier{}
	}
}

// NotifySummary sends a one-line tally of the run.
func (n *Notifier) NotifySummary(s Summary) error {
	if n == nil || n.sender == nil {
		return nil
	}
	title := "docharvest finished"
	if s.Failed > 0 || len(s.FailedDatasets) > 0 {
		title = "docharvest finished with problems"
	}
	msg := fmt.Sprintf("%d downloaded, %d already present, %d failed", s.Downloaded, s.Skipped, s.Failed)
	return n.sender.Send(title, msg)
}
