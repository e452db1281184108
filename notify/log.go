// Package notify delivers one-time codes. Every notifier implements
// acctguard.Notifier; a returned error means the code did not leave the
// process and the engine discards it.
package notify

import (
	"context"
	"log/slog"
	"sync"
)

// LogNotifier writes codes to a logger instead of delivering them. Use it in
// development only.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) SendSMS(ctx context.Context, phone, code string) error {
	n.logger.InfoContext(ctx, "sms otp", slog.String("phone", phone), slog.String("code", code))
	return nil
}

func (n *LogNotifier) SendEmail(ctx context.Context, address, code string) error {
	n.logger.InfoContext(ctx, "email otp", slog.String("email", address), slog.String("code", code))
	return nil
}

// Recorder keeps the last code sent to each recipient. Set Err to make every
// delivery fail.
type Recorder struct {
	mu    sync.Mutex
	codes map[string]string
	sent  int

	Err error
}

func NewRecorder() *Recorder {
	return &Recorder{codes: make(map[string]string)}
}

func (r *Recorder) SendSMS(_ context.Context, phone, code string) error {
	return r.record(phone, code)
}

func (r *Recorder) SendEmail(_ context.Context, address, code string) error {
	return r.record(address, code)
}

func (r *Recorder) record(recipient, code string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.Err != nil {
		return r.Err
	}
	r.codes[recipient] = code
	r.sent++
	return nil
}

// Last returns the most recent code delivered to recipient.
func (r *Recorder) Last(recipient string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	code, ok := r.codes[recipient]
	return code, ok
}

// Sent returns the number of successful deliveries.
func (r *Recorder) Sent() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sent
}
