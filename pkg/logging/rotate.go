package logging

import (
	"os"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// DefaultLogBackups is how many rotated log files are kept: one year of days.
const DefaultLogBackups = 365

// dailyWriter rotates the underlying file the first time it is written on a
// new local day. lumberjack also rotates on size and prunes old backups.
type dailyWriter struct {
	mu  sync.Mutex
	lj  *lumberjack.Logger
	now func() time.Time
	day string
}

func newDailyWriter(filename string, backups int, now func() time.Time) *dailyWriter {
	if backups <= 0 {
		backups = DefaultLogBackups
	}
	if now == nil {
		now = time.Now
	}
	day := now().Format(time.DateOnly)
	// a file left by an earlier day is rotated on the first write
	if fi, err := os.Stat(filename); err == nil && fi.Size() > 0 {
		day = fi.ModTime().Local().Format(time.DateOnly)
	}
	return &dailyWriter{
		lj:  &lumberjack.Logger{Filename: filename, MaxBackups: backups, LocalTime: true},
		now: now,
		day: day,
	}
}

func (w *dailyWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if day := w.now().Format(time.DateOnly); day != w.day {
		w.day = day
		if err := w.lj.Rotate(); err != nil {
			return 0, err
		}
	}
	return w.lj.Write(p)
}

func (w *dailyWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lj.Close()
}
