package discord

import (
	"log"
	"time"
)

// sólo se loguean los pasos lentos
const slowStep = 500 * time.Millisecond

func step(label string) func() {
	start := time.Now()
	return func() {
		if d := time.Since(start); d >= slowStep {
			log.Printf("[trace] %s = %s", label, d)
		}
	}
}
