// Package obslog provides the structured logger shared by every component.
//
// The teacher (joynahid-upwork-job-listing-scraper/goapi) logs with bare
// log.Printf and emoji-tagged messages ("🔥 Firestore client initialized...",
// "💚 Cache HIT..."). We keep that texture but route it through logrus so
// job ids, fingerprints and worker ids are structured fields instead of
// interpolated strings.
package obslog

import (
	"os"

	"github.com/sirupsen/logrus"
)

// base is the root logger every component derives fields from.
var base = newBase()

func newBase() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stdout)
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
	if lvl := os.Getenv("LOG_LEVEL"); lvl != "" {
		if parsed, err := logrus.ParseLevel(lvl); err == nil {
			l.SetLevel(parsed)
		}
	}
	return l
}

// For returns a logger scoped to a component name, e.g. obslog.For("dispatch").
func For(component string) *logrus.Entry {
	return base.WithField("component", component)
}
