package events

import (
	"encoding/base64"
	"encoding/json"
	"strconv"
	"time"

	"github.com/satsplit/satsplit/internal/models"
)

// Tag is one typed event tag. Construction errors surface at compile time;
// the wire array shape is produced only at the protocol boundary. Tag names
// and positions are the wire contract other clients parse — renaming or
// reordering them is a breaking change.
type Tag interface {
	wire() []string
}

// requestID carries the unique request identifier ("rid").
type requestID string

func (t requestID) wire() []string { return []string{"rid", string(t)} }

// imageHash carries the receipt image content hash ("rhash"), or a
// synthetic id when no image was captured.
type imageHash string

func (t imageHash) wire() []string { return []string{"rhash", string(t)} }

// amount carries the total in sats ("amount").
type amount int64

func (t amount) wire() []string {
	return []string{"amount", strconv.FormatInt(int64(t), 10)}
}

// currency carries the fiat currency code ("ccy").
type currency string

func (t currency) wire() []string { return []string{"ccy", string(t)} }

// fxRate carries the 3-tuple (rate, source, ISO timestamp) used to price
// the request ("fx").
type fxRate models.ExchangeRate

func (t fxRate) wire() []string {
	ts := time.UnixMilli(t.Timestamp).UTC().Format(time.RFC3339)
	return []string{"fx", strconv.FormatInt(t.SatsPerUnit, 10), t.Source, ts}
}

// splitTable carries the flow mode and the base64 participant/share table
// ("split").
type splitTable struct {
	flow         models.FlowMode
	participants []models.Participant
}

type splitEntry struct {
	Pubkey    string `json:"pubkey"`
	ShareSats int64  `json:"shareSats"`
}

func (t splitTable) wire() []string {
	entries := make([]splitEntry, len(t.participants))
	for i, p := range t.participants {
		entries[i] = splitEntry{Pubkey: p.Pubkey, ShareSats: p.ShareSats}
	}
	payload, _ := json.Marshal(struct {
		Participants []splitEntry    `json:"participants"`
		Flow         models.FlowMode `json:"flow"`
	}{entries, t.flow})
	return []string{"split", string(t.flow), base64.StdEncoding.EncodeToString(payload)}
}

// meal carries the generic category label ("meal").
type meal string

func (t meal) wire() []string { return []string{"meal", string(t)} }

// privacyMarker is the fixed marker stating no merchant or location data is
// present ("privacy").
type privacyMarker struct{}

func (privacyMarker) wire() []string { return []string{"privacy", "no-location"} }

// flowMode repeats the payment flow as a discrete tag ("flow").
type flowMode models.FlowMode

func (t flowMode) wire() []string { return []string{"flow", string(t)} }

// recipient references one participant's public key ("p").
type recipient string

func (t recipient) wire() []string { return []string{"p", string(t)} }

// replyTo references the original request event ("e").
type replyTo string

func (t replyTo) wire() []string { return []string{"e", string(t), "reply"} }

// paid states which participant paid and how much ("paid").
type paid struct {
	pubkey string
	sats   int64
}

func (t paid) wire() []string {
	return []string{"paid", t.pubkey, strconv.FormatInt(t.sats, 10)}
}

// method carries the settlement method ("method").
type method models.PayMethod

func (t method) wire() []string { return []string{"method", string(t)} }

// wireTags flattens typed tags into the protocol's string-array shape,
// preserving order.
func wireTags(tags ...Tag) [][]string {
	out := make([][]string, len(tags))
	for i, t := range tags {
		out[i] = t.wire()
	}
	return out
}
