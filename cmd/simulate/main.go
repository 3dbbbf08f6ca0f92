package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brianvoe/gofakeit/v7"

	"github.com/clinicdesk/booking-engine/internal/config"
	"github.com/clinicdesk/booking-engine/internal/db"
	"github.com/clinicdesk/booking-engine/internal/schedule"
)

// Contention simulator: many workers race to book the same day's slots
// through the HTTP API, then the appointment store is audited for
// double-booked active slots. The expected outcome is zero.

type SimConfig struct {
	APIBaseURL string
	Workers    int
	Attempts   int
	TargetDate string
}

type Metrics struct {
	Created   int64
	Conflicts int64
	Rejected  int64
	Errors    int64
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("simulator starting")

	sim := SimConfig{
		APIBaseURL: getEnv("API_BASE_URL", "http://127.0.0.1:8080"),
		Workers:    getEnvInt("SIM_WORKERS", 16),
		Attempts:   getEnvInt("SIM_ATTEMPTS", 400),
		TargetDate: os.Getenv("SIM_DATE"),
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	if sim.TargetDate == "" {
		sim.TargetDate = schedule.FormatDate(nextOpenDay(cfg))
	}

	slots, err := schedule.Generate(cfg.Hours)
	if err != nil {
		log.Fatalf("generate slots: %v", err)
	}

	log.Printf("hammering %s with %d workers, %d attempts, %d slots on %s",
		sim.APIBaseURL, sim.Workers, sim.Attempts, len(slots), sim.TargetDate)

	gofakeit.Seed(time.Now().UnixNano())

	var metrics Metrics
	var attempts int64
	client := &http.Client{Timeout: 5 * time.Second}

	var wg sync.WaitGroup
	for w := 0; w < sim.Workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				n := atomic.AddInt64(&attempts, 1)
				if n > int64(sim.Attempts) {
					return
				}
				slot := slots[rand.Intn(len(slots))]
				bookOnce(client, sim, slot, &metrics)
			}
		}()
	}
	wg.Wait()

	log.Printf("done: created=%d conflicts=%d rejected=%d errors=%d",
		metrics.Created, metrics.Conflicts, metrics.Rejected, metrics.Errors)

	auditStore(cfg, sim.TargetDate)
}

func bookOnce(client *http.Client, sim SimConfig, slot string, m *Metrics) {
	body, _ := json.Marshal(map[string]any{
		"date": sim.TargetDate,
		"time": slot,
		"patient": map[string]string{
			"name":  gofakeit.Name(),
			"phone": gofakeit.Phone(),
		},
	})

	resp, err := client.Post(sim.APIBaseURL+"/appointments", "application/json", bytes.NewReader(body))
	if err != nil {
		atomic.AddInt64(&m.Errors, 1)
		return
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	switch resp.StatusCode {
	case http.StatusCreated:
		atomic.AddInt64(&m.Created, 1)
	case http.StatusConflict:
		atomic.AddInt64(&m.Conflicts, 1)
	case http.StatusUnprocessableEntity:
		atomic.AddInt64(&m.Rejected, 1)
	default:
		atomic.AddInt64(&m.Errors, 1)
	}
}

// auditStore queries for active slots held by more than one appointment.
func auditStore(cfg config.Config, date string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("connect postgres for audit: %v", err)
	}
	defer pool.Close()

	rows, err := pool.Query(ctx, `
		SELECT preferred_time, count(*)
		FROM appointments
		WHERE preferred_date = $1
		  AND status <> 'cancelled'
		GROUP BY preferred_time
		HAVING count(*) > 1
	`, date)
	if err != nil {
		log.Fatalf("audit query: %v", err)
	}
	defer rows.Close()

	doubled := 0
	for rows.Next() {
		var t string
		var n int
		if err := rows.Scan(&t, &n); err != nil {
			log.Fatalf("audit scan: %v", err)
		}
		log.Printf("DOUBLE BOOKING: %s %s held by %d active appointments", date, t, n)
		doubled++
	}
	if err := rows.Err(); err != nil {
		log.Fatalf("audit rows: %v", err)
	}

	if doubled == 0 {
		log.Printf("audit clean: every active slot on %s has exactly one appointment", date)
		return
	}
	log.Fatalf("audit failed: %d double-booked slots", doubled)
}

func nextOpenDay(cfg config.Config) time.Time {
	d := schedule.DayOf(time.Now(), cfg.Location).AddDate(0, 0, 1)
	for i := 0; i < 14; i++ {
		if !cfg.ClosedWeekdays[d.Weekday()] && !cfg.Holidays[schedule.FormatDate(d)] {
			return d
		}
		d = d.AddDate(0, 0, 1)
	}
	return d
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
		fmt.Fprintf(os.Stderr, "invalid integer for %s=%q, using default %d\n", key, v, def)
	}
	return def
}
