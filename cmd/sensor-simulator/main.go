// sensor-simulator emits synthetic flood-sensor telemetry as newline-delimited
// JSON, matching the firmware's wire format. Point it at a pty (e.g. via
// socat) to exercise the daemon without hardware, or pipe stdout for a quick
// look at the generated data.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"math"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"
)

type telemetryLine struct {
	DistanceCM  float64 `json:"distance_cm"`
	RainAnalog  int     `json:"rain_analog"`
	FloatStatus int     `json:"float_status"`
}

// sensorModel produces a physically plausible trace: a stable baseline
// distance with noise, rain episodes that begin at random and slowly pull
// the water level up while they last, and an optional float-switch trip.
type sensorModel struct {
	baseDistance float64
	distance     float64
	raining      bool
	rainLevel    int
	floatTripped bool
}

func newSensorModel(baseDistance float64) *sensorModel {
	return &sensorModel{
		baseDistance: baseDistance,
		distance:     baseDistance,
	}
}

func (m *sensorModel) next() telemetryLine {
	// Rain episodes start rarely and end rarely, so they last a while.
	if !m.raining && rand.Float64() < 0.03 {
		m.raining = true
		m.rainLevel = 550 + rand.Intn(300)
	} else if m.raining && rand.Float64() < 0.05 {
		m.raining = false
	}

	if m.raining {
		m.rainLevel += rand.Intn(41) - 20
		if m.rainLevel > 1023 {
			m.rainLevel = 1023
		}
		if m.rainLevel < 500 {
			m.rainLevel = 500
		}
		// Water creeps toward the sensor while it rains.
		m.distance -= 0.3 + rand.Float64()*0.4
	} else {
		m.rainLevel = rand.Intn(200)
		// Recede toward the baseline.
		m.distance += (m.baseDistance - m.distance) * 0.05
	}
	if m.distance < 5 {
		m.distance = 5
	}

	floatStatus := 0
	if m.floatTripped || m.distance < m.baseDistance*0.15 {
		floatStatus = 1
	}

	return telemetryLine{
		DistanceCM:  math.Round((m.distance+rand.Float64()-0.5)*10) / 10,
		RainAnalog:  m.rainLevel,
		FloatStatus: floatStatus,
	}
}

func main() {
	device := flag.String("device", "-", "Device or file to write lines to ('-' for stdout)")
	interval := flag.Duration("interval", 5*time.Second, "Delay between readings")
	baseDistance := flag.Float64("base-distance", 150, "Baseline distance to the water surface in cm")
	tripAfter := flag.Int("trip-float-after", 0, "Trip the float switch after N readings (0 = never)")
	flag.Parse()

	var out io.WriteCloser = os.Stdout
	if *device != "-" {
		f, err := os.OpenFile(*device, os.O_WRONLY, 0)
		if err != nil {
			log.Fatalf("cannot open %s: %v", *device, err)
		}
		out = f
		defer f.Close()
	}

	ctx, cancel := context.WithCancel(context.Background())
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigs
		cancel()
	}()

	log.Printf("sensor-simulator writing to %s every %v", *device, *interval)

	model := newSensorModel(*baseDistance)
	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	count := 0
	for {
		select {
		case <-ctx.Done():
			log.Print("sensor-simulator stopping")
			return
		case <-ticker.C:
			count++
			if *tripAfter > 0 && count >= *tripAfter {
				model.floatTripped = true
			}

			line := model.next()
			encoded, err := json.Marshal(line)
			if err != nil {
				log.Fatalf("encoding reading: %v", err)
			}
			if _, err := fmt.Fprintf(out, "%s\n", encoded); err != nil {
				log.Fatalf("writing to %s: %v", *device, err)
			}
		}
	}
}
