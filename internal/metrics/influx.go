package metrics

import (
	"math/big"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
)

// Recorder writes ledger measurements to InfluxDB. A nil *Recorder is a
// valid no-op so the core can run without a metrics backend.
type Recorder struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
}

// Config holds InfluxDB connection settings.
type Config struct {
	URL    string
	Token  string
	Org    string
	Bucket string
}

// NewRecorder creates a Recorder using the non-blocking write API.
func NewRecorder(cfg Config) *Recorder {
	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	return &Recorder{
		client:   client,
		writeAPI: client.WriteAPI(cfg.Org, cfg.Bucket),
	}
}

// AccrualPass records a global accrual pass.
func (r *Recorder) AccrualPass(elapsed time.Duration, pool, totalStaked *big.Int) {
	if r == nil {
		return
	}
	p := influxdb2.NewPoint("accrual_pass",
		nil,
		map[string]interface{}{
			"elapsed_seconds": int64(elapsed.Seconds()),
			"reward_pool":     pool.String(),
			"total_staked":    totalStaked.String(),
		},
		time.Now())
	r.writeAPI.WritePoint(p)
}

// Operation records a mutating ledger operation and its amount.
func (r *Recorder) Operation(name, address string, amount *big.Int) {
	if r == nil {
		return
	}
	p := influxdb2.NewPoint("ledger_op",
		map[string]string{"op": name, "address": address},
		map[string]interface{}{"amount": amount.String()},
		time.Now())
	r.writeAPI.WritePoint(p)
}

// Close flushes pending writes and shuts the client down.
func (r *Recorder) Close() {
	if r == nil {
		return
	}
	r.writeAPI.Flush()
	r.client.Close()
}
