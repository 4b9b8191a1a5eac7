/*
Package updater is the dynamic DNS update client. It turns one refresh batch into a single RFC2136
update transaction - a PTR plus metadata TXT per live address, a bare RRset removal per departed
address - and exchanges it with the zone master. UDP is tried first with a TCP retry on
truncation, matching how most masters want to be spoken to.
*/
package updater

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/miekg/dns"

	"github.com/markdingo/rearview/internal/dnsutil"
	"github.com/markdingo/rearview/internal/refresh"
)

const me = "updater"

// ErrTransport wraps any failure to get a usable response out of the zone master: dial errors,
// timeouts, exchange failures. Rcode-level refusals are not transport errors - they come back in
// the CommitResult.
var ErrTransport = errors.New(me + ": transport failure")

// Exchanger is the only dns.Client behaviour used by this package. It exists so tests can supply
// a mock in place of a real client.
type Exchanger interface {
	Exchange(m *dns.Msg, address string) (r *dns.Msg, rtt time.Duration, err error)
}

// defaultNewExchangerFunc returns the default struct which meets the Exchanger interface, namely
// a miekg/dns.Client.
func defaultNewExchangerFunc(net string, timeout time.Duration) Exchanger {
	return &dns.Client{Net: net, Timeout: timeout}
}

// Config defines the update client parameters. Zone and Server are mandatory. TsigName/TsigSecret
// optionally sign transactions with HMAC-SHA256.
type Config struct {
	Zone    string // The RPZ receiving synthesized PTRs, e.g. "rpz.example.org."
	Server  string // host:port of the zone master
	Timeout time.Duration

	PtrTTL uint32
	TxtTTL uint32

	TsigName   string
	TsigSecret string

	LogOut bool      // Compact print of each outbound transaction
	LogIn  bool      // Compact print of each response
	Stdout io.Writer // Destination for LogOut/LogIn output

	NewExchangerFunc func(net string, timeout time.Duration) Exchanger
}

var (
	DefaultConfig = Config{
		Timeout: 5 * time.Second,
		PtrTTL:  600,
		TxtTTL:  600,
	}
)

// clientStats is split out so resetCounters() is a trivial struct copy.
type clientStats struct {
	transactions   int
	transportFails int
	refusals       int // Got a response but rcode != NOERROR
	tcpRetries     int
	totalLatency   time.Duration
}

// Client issues update transactions. It satisfies refresh.Committer.
type Client struct {
	config Config

	mu sync.Mutex // Protects everything below here
	clientStats
}

// New constructs an update client.
func New(config Config) (*Client, error) {
	if len(config.Zone) == 0 {
		return nil, errors.New(me + ": a zone name is mandatory")
	}
	if len(config.Server) == 0 {
		return nil, errors.New(me + ": an update target server is mandatory")
	}
	config.Zone = dns.Fqdn(config.Zone)
	if config.Timeout <= 0 {
		config.Timeout = DefaultConfig.Timeout
	}
	if config.PtrTTL == 0 {
		config.PtrTTL = DefaultConfig.PtrTTL
	}
	if config.TxtTTL == 0 {
		config.TxtTTL = DefaultConfig.TxtTTL
	}
	if (len(config.TsigName) == 0) != (len(config.TsigSecret) == 0) {
		return nil, errors.New(me + ": TSIG name and secret must be supplied together")
	}
	config.TsigName = dns.Fqdn(config.TsigName)
	if config.NewExchangerFunc == nil && len(config.TsigSecret) > 0 {
		secret := map[string]string{config.TsigName: config.TsigSecret}
		config.NewExchangerFunc = func(net string, timeout time.Duration) Exchanger {
			return &dns.Client{Net: net, Timeout: timeout, TsigSecret: secret}
		}
	}
	if config.NewExchangerFunc == nil {
		config.NewExchangerFunc = defaultNewExchangerFunc
	}

	return &Client{config: config}, nil
}

// Commit builds and exchanges one update transaction for the batch. Satisfies refresh.Committer.
func (t *Client) Commit(updates []refresh.Update) (refresh.CommitResult, error) {
	m, err := t.buildUpdate(updates)
	if err != nil {
		return refresh.CommitResult{}, err
	}

	result := refresh.CommitResult{RequestBytes: m.Len()}
	if t.config.LogOut && t.config.Stdout != nil {
		fmt.Fprintln(t.config.Stdout, "UO:"+dnsutil.CompactMsgString(m))
	}

	exchanger := t.config.NewExchangerFunc("", t.config.Timeout) // Default/UDP client first
	r, rtt, err := exchanger.Exchange(m, t.config.Server)
	if err == nil && r.Truncated { // Update too fat for UDP, retry over TCP
		t.mu.Lock()
		t.tcpRetries++
		t.mu.Unlock()
		tcpExchanger := t.config.NewExchangerFunc("tcp", t.config.Timeout)
		var tcpRtt time.Duration
		r, tcpRtt, err = tcpExchanger.Exchange(m, t.config.Server)
		rtt += tcpRtt
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.transactions++
	t.totalLatency += rtt
	if err != nil {
		t.transportFails++
		return result, fmt.Errorf("%w: %s: %s", ErrTransport, t.config.Server, err.Error())
	}

	result.Rcode = r.Rcode
	result.ResponseBytes = r.Len()
	if r.Rcode != dns.RcodeSuccess {
		t.refusals++
	}
	if t.config.LogIn && t.config.Stdout != nil {
		fmt.Fprintln(t.config.Stdout, "UI:"+dnsutil.CompactMsgString(r), rtt)
	}

	return result, nil
}

// buildUpdate constructs the single update message covering every address in the batch. Owner
// names are the reverse-map form of each address; existing PTR/TXT RRsets are always removed
// first so each commit replaces rather than accretes.
func (t *Client) buildUpdate(updates []refresh.Update) (*dns.Msg, error) {
	if len(updates) == 0 {
		return nil, fmt.Errorf("%s: refusing to build an empty update", me)
	}

	m := new(dns.Msg)
	m.SetUpdate(t.config.Zone)

	for _, u := range updates {
		owner, err := dnsutil.ReverseName(u.Address)
		if err != nil {
			return nil, fmt.Errorf("%s: %s", me, err.Error())
		}

		m.RemoveRRset([]dns.RR{
			&dns.ANY{Hdr: dns.RR_Header{Name: owner, Rrtype: dns.TypePTR, Class: dns.ClassANY}},
			&dns.ANY{Hdr: dns.RR_Header{Name: owner, Rrtype: dns.TypeTXT, Class: dns.ClassANY}},
		})
		if !u.Present {
			continue
		}

		ptr := &dns.PTR{
			Hdr: dns.RR_Header{Name: owner, Rrtype: dns.TypePTR, Class: dns.ClassINET, Ttl: t.config.PtrTTL},
			Ptr: dns.Fqdn(u.Entry.Terminal),
		}
		txt := &dns.TXT{
			Hdr: dns.RR_Header{Name: owner, Rrtype: dns.TypeTXT, Class: dns.ClassINET, Ttl: t.config.TxtTTL},
			Txt: []string{dnsutil.EncodeMetadata(dnsutil.Metadata{
				First:  u.Entry.FirstSeen,
				Last:   u.Entry.LastSeen,
				Update: time.Now(),
				Score:  u.Entry.Score,
			})},
		}
		m.Insert([]dns.RR{ptr, txt})
	}

	if len(t.config.TsigSecret) > 0 {
		m.SetTsig(t.config.TsigName, dns.HmacSHA256, 300, time.Now().Unix())
	}

	return m, nil
}

// Name implements the reporter interface
func (t *Client) Name() string {
	return "Updater"
}

// Report implements the reporter interface.
func (t *Client) Report(resetCounters bool) string {
	t.mu.Lock()
	defer t.mu.Unlock()

	var al float64
	good := t.transactions - t.transportFails
	if good > 0 {
		al = t.totalLatency.Seconds() / float64(good)
	}
	s := fmt.Sprintf("txn=%d tfail=%d refused=%d tcp=%d al=%0.3f %s",
		t.transactions, t.transportFails, t.refusals, t.tcpRetries, al,
		strings.TrimSuffix(t.config.Server, "."))

	if resetCounters {
		t.clientStats = clientStats{}
	}

	return s
}
