package notify

import (
	"fmt"
	"html"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/nexus-trading/poolwatch/internal/market"
)

const (
	iconYes = "🟢"
	iconNo  = "🔴"
)

// MessageFormat selects how the destination renders Text.
type MessageFormat int

const (
	FormatPlain MessageFormat = iota
	FormatHTML
)

func (f MessageFormat) String() string {
	switch f {
	case FormatHTML:
		return "html"
	default:
		return "plain"
	}
}

// Trigger records what started a pipeline run.
type Trigger string

const (
	TriggerStream Trigger = "stream"
	TriggerManual Trigger = "manual"
)

// Alert is the structured payload behind a message, used by mirror sinks.
type Alert struct {
	RunID       string
	Trigger     Trigger
	Signature   string
	Snapshot    market.Snapshot
	SafetyFlags []string
}

// Message is one outbound notification.
type Message struct {
	Text   string
	Format MessageFormat
	Alert  *Alert
}

// LinkConfig controls links and the headline rendered into an alert.
type LinkConfig struct {
	Chain           string
	Headline        string
	BuyLinkTemplate string // "{mint}" is replaced with the token mint
	Now             func() time.Time
}

// Headline returns the first line for an alert.
func Headline(trigger Trigger, venue string) string {
	if trigger == TriggerManual {
		return "Token Analysis Results:"
	}
	if venue == "" {
		return "New Liquidity Pool detected"
	}
	r, size := utf8.DecodeRuneInString(venue)
	return "New Liquidity Pool detected on " + string(unicode.ToUpper(r)) + venue[size:]
}

// FormatSnapshot renders s as an HTML alert. Token-supplied strings are
// escaped; everything else is produced here.
func FormatSnapshot(s market.Snapshot, links LinkConfig) Message {
	now := time.Now
	if links.Now != nil {
		now = links.Now
	}
	chain := links.Chain
	if chain == "" {
		chain = "solana"
	}
	headline := links.Headline
	if headline == "" {
		headline = Headline(TriggerStream, s.VenueMatched)
	}

	socialsIcon := iconNo
	if s.HasSocials() {
		socialsIcon = iconYes
	}
	pumpIcon, pumpLabel := iconNo, "No"
	if s.PumpStyle {
		pumpIcon, pumpLabel = iconYes, "Yes"
	}

	mint := html.EscapeString(s.TokenMint)

	var b strings.Builder
	b.WriteString("<b>[ Token Information ]</b>\n")
	fmt.Fprintf(&b, "🚀 %s\n", html.EscapeString(headline))
	fmt.Fprintf(&b, "%s This token has %d socials.\n", socialsIcon, s.SocialCount)
	fmt.Fprintf(&b, "📛 Token Name: %s Symbol: %s\n", html.EscapeString(s.TokenName), html.EscapeString(s.TokenSymbol))
	fmt.Fprintf(&b, "💹 Current Price: $%s\n", s.PriceUSD.String())
	fmt.Fprintf(&b, "📦 Current Mkt Cap: $%s\n", s.MarketCapUSD.StringFixed(2))
	fmt.Fprintf(&b, "💦 Current Liquidity: $%s\n", s.LiquidityUSD.StringFixed(2))
	fmt.Fprintf(&b, "🚀 Pumpfun token: %s %s\n", pumpIcon, pumpLabel)
	fmt.Fprintf(&b, "👀 View on Dex https://dexscreener.com/%s/%s\n", html.EscapeString(chain), mint)
	fmt.Fprintf(&b, "🕒 This token pair was created %s and has %d pairs available\n", s.Age(now()), s.PairsAvailable)
	if links.BuyLinkTemplate != "" {
		fmt.Fprintf(&b, "🔗 Buy %s\n", html.EscapeString(strings.ReplaceAll(links.BuyLinkTemplate, "{mint}", s.TokenMint)))
	}
	b.WriteString("---------------------------------------------")

	return Message{
		Text:   b.String(),
		Format: FormatHTML,
		Alert:  &Alert{Snapshot: s},
	}
}

// PlainText builds an unformatted message, used for command replies.
func PlainText(text string) Message {
	return Message{Text: text, Format: FormatPlain}
}
