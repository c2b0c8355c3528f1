package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"slices"
	"sort"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/marmos91/smbiod/internal/cli/output"
	"github.com/marmos91/smbiod/internal/logger"
	"github.com/marmos91/smbiod/pkg/iod"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	probeCount    int
	probeParallel int
	probeOutput   string
	probeSession  sessionFlags
)

var probeCmd = &cobra.Command{
	Use:   "probe TARGET [SHARE...]",
	Short: "Connect to a server and measure request round trips",
	Long: `Connect to an SMB2 server, negotiate, authenticate and attach the given
shares, then send a burst of ECHO requests through the connection engine and
report the negotiated session together with round-trip latencies.

TARGET is //server/share, \\server\share, smb://server[:port]/share or
server[:port]. Further shares may follow as arguments.

Examples:
  # Anonymous probe of a server
  smbiod probe //fs01

  # Probe as a domain user, attaching two shares
  smbiod probe -u 'CORP\alice' //fs01/data home

  # 1000 echoes, 32 in flight, as JSON
  smbiod probe --count 1000 --parallel 32 -o json //fs01/data`,
	Args: cobra.MinimumNArgs(1),
	RunE: runProbe,
}

func init() {
	probeCmd.Flags().IntVarP(&probeCount, "count", "n", 10, "number of ECHO requests to send")
	probeCmd.Flags().IntVarP(&probeParallel, "parallel", "p", 1, "maximum ECHO requests in flight")
	probeCmd.Flags().StringVarP(&probeOutput, "output", "o", "table", "output format (table|json|yaml)")
	probeSession.register(probeCmd)
}

func runProbe(cmd *cobra.Command, args []string) error {
	format, err := output.ParseFormat(probeOutput)
	if err != nil {
		return err
	}
	if probeCount < 0 || probeParallel < 1 {
		return fmt.Errorf("--count must be >= 0 and --parallel >= 1")
	}

	target, err := ParseTarget(args[0], args[1:]...)
	if err != nil {
		return err
	}

	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	if err := probeSession.apply(cfg); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownObservability, err := initObservability(ctx, cfg, map[string]string{"command": "probe"})
	if err != nil {
		return err
	}
	defer shutdownObservability()

	sess, err := openSession(cfg, target, iod.NopNotifier{}, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err := sess.close(cfg.ShutdownTimeout); err != nil {
			logger.Warn("Shutdown incomplete", logger.KeyConnID, sess.conn.ID(), logger.KeyError, err)
		}
	}()

	start := time.Now()
	if err := sess.establish(ctx); err != nil {
		return err
	}
	report := newProbeReport(sess, time.Since(start))

	results := runEchoes(ctx, sess, probeCount, probeParallel)
	report.addEchoes(results)
	report.Stats = sess.conn.Stats()

	if err := report.render(output.StdoutPrinter(format)); err != nil {
		return err
	}
	if report.Echo.Failed > 0 {
		return fmt.Errorf("%d of %d echo requests failed", report.Echo.Failed, report.Echo.Sent)
	}
	return nil
}

// echoResult is the outcome of one ECHO.
type echoResult struct {
	latency time.Duration
	err     error
}

// runEchoes sends count ECHOs with at most parallel in flight. Failures
// are collected, not returned, so one bad exchange does not stop the rest.
func runEchoes(ctx context.Context, sess *session, count, parallel int) []echoResult {
	var (
		mu      sync.Mutex
		results = make([]echoResult, 0, count)
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallel)
	for i := 0; i < count; i++ {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			start := time.Now()
			err := sess.echo(gctx)
			r := echoResult{latency: time.Since(start), err: err}
			if err != nil {
				logger.Debug("Echo failed", logger.KeyConnID, sess.conn.ID(), logger.KeyError, err)
			}

			mu.Lock()
			results = append(results, r)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// probeReport is what probe prints.
type probeReport struct {
	Target          string        `json:"target" yaml:"target"`
	Server          string        `json:"server" yaml:"server"`
	Dialect         string        `json:"dialect" yaml:"dialect"`
	ServerGUID      string        `json:"server_guid" yaml:"server_guid"`
	SessionID       string        `json:"session_id" yaml:"session_id"`
	Guest           bool          `json:"guest" yaml:"guest"`
	Anonymous       bool          `json:"anonymous" yaml:"anonymous"`
	SigningRequired bool          `json:"signing_required" yaml:"signing_required"`
	MaxReadSize     uint32        `json:"max_read_size" yaml:"max_read_size"`
	MaxWriteSize    uint32        `json:"max_write_size" yaml:"max_write_size"`
	MaxTransactSize uint32        `json:"max_transact_size" yaml:"max_transact_size"`
	Credits         int           `json:"credits" yaml:"credits"`
	Establish       time.Duration `json:"establish_ns" yaml:"establish_ns"`
	Shares          []shareReport `json:"shares" yaml:"shares"`
	Echo            echoSummary   `json:"echo" yaml:"echo"`
	Stats           iod.Stats     `json:"stats" yaml:"stats"`
}

type shareReport struct {
	Name      string `json:"name" yaml:"name"`
	TreeID    uint64 `json:"tree_id" yaml:"tree_id"`
	Reachable bool   `json:"reachable" yaml:"reachable"`
}

// echoSummary aggregates echo outcomes by error kind and their latencies.
type echoSummary struct {
	Sent     int            `json:"sent" yaml:"sent"`
	Failed   int            `json:"failed" yaml:"failed"`
	Outcomes map[string]int `json:"outcomes" yaml:"outcomes"`
	Min      time.Duration  `json:"min_ns" yaml:"min_ns"`
	Mean     time.Duration  `json:"mean_ns" yaml:"mean_ns"`
	P50      time.Duration  `json:"p50_ns" yaml:"p50_ns"`
	P99      time.Duration  `json:"p99_ns" yaml:"p99_ns"`
	Max      time.Duration  `json:"max_ns" yaml:"max_ns"`
}

func newProbeReport(sess *session, establish time.Duration) *probeReport {
	info := sess.dialect.Info()
	r := &probeReport{
		Target:          sess.target.String(),
		Server:          sess.target.Addr(),
		Dialect:         info.Dialect.String(),
		ServerGUID:      info.ServerGUID.String(),
		SessionID:       fmt.Sprintf("0x%016x", info.SessionID),
		Guest:           info.Guest,
		Anonymous:       info.Anonymous,
		SigningRequired: info.SigningRequired,
		MaxReadSize:     info.MaxReadSize,
		MaxWriteSize:    info.MaxWriteSize,
		MaxTransactSize: info.MaxTransactSize,
		Credits:         info.Credits,
		Establish:       establish,
		Shares:          make([]shareReport, 0, len(sess.shares)),
	}
	for _, s := range sess.shares {
		r.Shares = append(r.Shares, shareReport{Name: s.Name, TreeID: s.ID(), Reachable: s.Reachable()})
	}
	return r
}

// addEchoes summarizes results. Latency figures cover successful echoes only.
func (r *probeReport) addEchoes(results []echoResult) {
	r.Echo = echoSummary{Sent: len(results), Outcomes: make(map[string]int)}

	latencies := make([]time.Duration, 0, len(results))
	for _, res := range results {
		r.Echo.Outcomes[iod.Kind(res.err)]++
		if res.err != nil {
			r.Echo.Failed++
			continue
		}
		latencies = append(latencies, res.latency)
	}
	if len(latencies) == 0 {
		return
	}

	slices.Sort(latencies)
	var total time.Duration
	for _, l := range latencies {
		total += l
	}
	r.Echo.Min = latencies[0]
	r.Echo.Max = latencies[len(latencies)-1]
	r.Echo.Mean = total / time.Duration(len(latencies))
	r.Echo.P50 = percentile(latencies, 50)
	r.Echo.P99 = percentile(latencies, 99)
}

// percentile returns the nearest-rank percentile of sorted.
func percentile(sorted []time.Duration, p int) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	rank := (p*len(sorted) + 99) / 100
	if rank < 1 {
		rank = 1
	}
	return sorted[rank-1]
}

func (r *probeReport) render(p *output.Printer) error {
	if p.Format() != output.FormatTable {
		return p.Print(r)
	}

	var kv output.KeyValues
	kv.Add("Server", r.Server)
	kv.Add("Dialect", r.Dialect)
	kv.Add("Server GUID", r.ServerGUID)
	kv.Add("Session", r.SessionID)
	kv.Add("Logon", logonKind(r))
	kv.Add("Signing required", strconv.FormatBool(r.SigningRequired))
	kv.Add("Max read/write", fmt.Sprintf("%d/%d", r.MaxReadSize, r.MaxWriteSize))
	kv.Add("Credits", strconv.Itoa(r.Credits))
	kv.Add("Established in", output.HumanDuration(r.Establish))
	if err := output.PrintKeyValues(p.Writer(), kv); err != nil {
		return err
	}

	if len(r.Shares) > 0 {
		p.Printf("\n")
		shares := output.NewTableData("Share", "Tree ID", "Reachable")
		for _, s := range r.Shares {
			shares.AddRow(s.Name, fmt.Sprintf("0x%08x", s.TreeID), strconv.FormatBool(s.Reachable))
		}
		if err := p.Print(shares); err != nil {
			return err
		}
	}

	if r.Echo.Sent == 0 {
		return nil
	}
	p.Printf("\n")
	outcomes := output.NewTableData("Outcome", "Count")
	kinds := make([]string, 0, len(r.Echo.Outcomes))
	for k := range r.Echo.Outcomes {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	for _, k := range kinds {
		outcomes.AddRow(k, strconv.Itoa(r.Echo.Outcomes[k]))
	}
	if err := p.Print(outcomes); err != nil {
		return err
	}

	if r.Echo.Failed < r.Echo.Sent {
		p.Printf("\nrtt min/mean/p50/p99/max = %s/%s/%s/%s/%s\n",
			output.HumanDuration(r.Echo.Min), output.HumanDuration(r.Echo.Mean),
			output.HumanDuration(r.Echo.P50), output.HumanDuration(r.Echo.P99),
			output.HumanDuration(r.Echo.Max))
	}
	if r.Echo.Failed == 0 {
		p.Success(fmt.Sprintf("%d/%d echoes answered", r.Echo.Sent, r.Echo.Sent))
	} else {
		p.Warning(fmt.Sprintf("%d/%d echoes failed", r.Echo.Failed, r.Echo.Sent))
	}
	return nil
}

func logonKind(r *probeReport) string {
	switch {
	case r.Anonymous:
		return "anonymous"
	case r.Guest:
		return "guest"
	default:
		return "user"
	}
}
