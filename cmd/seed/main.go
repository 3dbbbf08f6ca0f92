package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"time"

	"github.com/brianvoe/gofakeit/v7"

	"github.com/clinicdesk/booking-engine/internal/booking"
	"github.com/clinicdesk/booking-engine/internal/config"
	"github.com/clinicdesk/booking-engine/internal/db"
	"github.com/clinicdesk/booking-engine/internal/schedule"
)

// Seeds the appointment store with fake bookings over the coming weeks so
// the calendar and availability views have something to show in dev.
func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("seed starting")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	if err := db.Migrate(ctx, pool); err != nil {
		log.Fatalf("migrate: %v", err)
	}

	gofakeit.Seed(time.Now().UnixNano())

	repo := booking.NewPgRepository(pool)

	slots, err := schedule.Generate(cfg.Hours)
	if err != nil {
		log.Fatalf("generate slots: %v", err)
	}

	created, skipped := 0, 0
	today := schedule.DayOf(time.Now(), cfg.Location)

	for dayOffset := 0; dayOffset < 21; dayOffset++ {
		date := today.AddDate(0, 0, dayOffset)
		if cfg.ClosedWeekdays[date.Weekday()] || cfg.Holidays[schedule.FormatDate(date)] {
			continue
		}

		// Fill roughly half of each open day.
		for _, slot := range slots {
			if rand.Intn(2) == 0 {
				continue
			}

			payload, err := fakePatient()
			if err != nil {
				log.Fatalf("fake patient: %v", err)
			}

			if _, err := repo.Create(ctx, date, slot, payload); err != nil {
				skipped++
				continue
			}
			created++
		}
	}

	log.Printf("seed complete: %d appointments created, %d skipped", created, skipped)
}

func fakePatient() (json.RawMessage, error) {
	patient := map[string]any{
		"name":  gofakeit.Name(),
		"phone": gofakeit.Phone(),
		"email": gofakeit.Email(),
		"note":  fmt.Sprintf("seeded %s visit", gofakeit.RandomString([]string{"checkup", "follow-up", "consult"})),
	}

	additional := rand.Intn(3)
	if additional > 0 {
		var extras []map[string]string
		for i := 0; i < additional; i++ {
			extras = append(extras, map[string]string{"name": gofakeit.Name()})
		}
		patient["additional_patients"] = extras
	}

	return json.Marshal(patient)
}
