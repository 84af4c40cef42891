package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/ofair/referrals/internal/logging"
	"go.uber.org/zap"
)

// Races concurrent payment requests against the same commission. Every round
// should produce exactly one 200 and a 409 for everyone else.
var (
	targetURL   string
	concurrency int
	rounds      int
	leadID      string
	leadValue   string
)

var (
	totalRequests uint64
	paid200       uint64
	conflict409   uint64
	failOther     uint64
	doublePaid    uint64
)

func init() {
	flag.StringVar(&targetURL, "url", "http://localhost:8080", "API Base URL")
	flag.IntVar(&concurrency, "workers", 10, "Concurrent payers per commission")
	flag.IntVar(&rounds, "rounds", 50, "Number of commissions to race on")
	flag.StringVar(&leadID, "lead", "bench-lead", "Lead id known to the leads service")
	flag.StringVar(&leadValue, "value", "1000.00", "Lead value used for each commission")
}

type identity struct {
	id, role string
}

var (
	finance = identity{"bench-finance", "finance"}
	admin   = identity{"bench-admin", "admin"}
)

func main() {
	flag.Parse()
	log := logging.NewLoggerFromEnv("development")
	defer log.AtExit()
	log.Info("starting payment race", zap.Int("workers", concurrency), zap.Int("rounds", rounds))

	client := &http.Client{Timeout: 5 * time.Second}
	start := time.Now()
	for i := 0; i < rounds; i++ {
		commissionID, err := prepareCommission(client, i)
		if err != nil {
			log.Error("could not prepare commission", zap.Int("round", i), zap.Error(err))
			atomic.AddUint64(&failOther, 1)
			continue
		}
		race(client, commissionID)
	}
	printResults(time.Since(start))
}

// prepareCommission creates a fresh referral, activates it and calculates
// its commission.
func prepareCommission(client *http.Client, round int) (string, error) {
	referrer := identity{fmt.Sprintf("bench-referrer-%s", uuid.NewString()[:8]), "customer"}
	referred := fmt.Sprintf("bench-user-%d", round)

	var ref struct {
		ID string `json:"id"`
	}
	if err := call(client, referrer, http.MethodPost, "/api/v1/referrals", map[string]interface{}{
		"lead_id":          leadID,
		"referred_user_id": referred,
		"commission_rate":  "0.05",
	}, http.StatusCreated, &ref); err != nil {
		return "", err
	}
	if err := call(client, admin, http.MethodPatch, "/api/v1/referrals/"+ref.ID+"/status",
		map[string]string{"status": "active"}, http.StatusOK, nil); err != nil {
		return "", err
	}

	var commission struct {
		ID string `json:"id"`
	}
	if err := call(client, finance, http.MethodPost, "/api/v1/referrals/"+ref.ID+"/commission",
		map[string]interface{}{"lead_value": leadValue}, http.StatusCreated, &commission); err != nil {
		return "", err
	}
	return commission.ID, nil
}

func race(client *http.Client, commissionID string) {
	var (
		wg   sync.WaitGroup
		won  uint64
		gate = make(chan struct{})
	)
	wg.Add(concurrency)
	for w := 0; w < concurrency; w++ {
		go func(w int) {
			defer wg.Done()
			<-gate
			body, _ := json.Marshal(map[string]string{
				"payment_method": "bank_transfer",
				"transaction_id": fmt.Sprintf("bench-%s-%d", commissionID, w),
			})
			req, _ := http.NewRequest(http.MethodPost, targetURL+"/api/v1/commissions/"+commissionID+"/pay", bytes.NewReader(body))
			setIdentity(req, finance)

			resp, err := client.Do(req)
			if err != nil {
				atomic.AddUint64(&failOther, 1)
				return
			}
			resp.Body.Close()

			atomic.AddUint64(&totalRequests, 1)
			switch resp.StatusCode {
			case http.StatusOK:
				atomic.AddUint64(&paid200, 1)
				atomic.AddUint64(&won, 1)
			case http.StatusConflict:
				atomic.AddUint64(&conflict409, 1)
			default:
				atomic.AddUint64(&failOther, 1)
			}
		}(w)
	}
	close(gate)
	wg.Wait()
	if won > 1 {
		atomic.AddUint64(&doublePaid, 1)
	}
}

func call(client *http.Client, who identity, method, path string, body interface{}, want int, out interface{}) error {
	b, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequest(method, targetURL+path, bytes.NewReader(b))
	if err != nil {
		return err
	}
	setIdentity(req, who)
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != want {
		return fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func setIdentity(req *http.Request, who identity) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User-ID", who.id)
	req.Header.Set("X-User-Role", who.role)
	req.Header.Set("X-User-Verified", "true")
}

func printResults(d time.Duration) {
	total := atomic.LoadUint64(&totalRequests)
	results := map[string]interface{}{
		"duration_sec":    d.Seconds(),
		"rounds":          rounds,
		"workers":         concurrency,
		"total_requests":  total,
		"paid":            atomic.LoadUint64(&paid200),
		"conflicts":       atomic.LoadUint64(&conflict409),
		"errors":          atomic.LoadUint64(&failOther),
		"double_payments": atomic.LoadUint64(&doublePaid),
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(results)
}
