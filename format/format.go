// Package format renders a classified change set into the plain-text
// notification document sent to chat backends.
package format

import (
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"funpay-notifier/pkg/offer"
)

const (
	descriptionBudget = 90 // max chars for a description line
	sectionSeparator  = "---------------"
	sectionFooter     = "==============="
)

// Matched case-insensitively on the original string so the index stays a
// valid byte offset into it.
var spSuffix = regexp.MustCompile(`(?i)\d+(?:\.\d+)?\s*m\s*sp\s*$`)

// Render produces the notification document for one run. Returns "" when
// there is nothing to report; callers must not send an empty document.
func Render(changes *offer.Changes, now time.Time) string {
	if changes.Empty() {
		return ""
	}

	// Display timestamps use UTC+8, the operator's timezone.
	stamp := now.UTC().Add(8 * time.Hour).Format("2006-01-02 15:04:05") + " UTC+8"

	parts := []string{"FunPay(EVE ECHOES) Update:\n" + stamp}
	counter := 0

	counter = appendSection(&parts, counter, "✨ New/Reappeared:", offerBlocks(changes.New))
	counter = appendSection(&parts, counter, "💰 On Sale:", changeBlocks(changes.Dropped, "⬇️"))
	counter = appendSection(&parts, counter, "📈 Price Increased:", changeBlocks(changes.Increased, "⬆️"))
	_ = appendSection(&parts, counter, "❌ Removed/Sold:", stateBlocks(changes.Removed))

	return strings.TrimSpace(strings.Join(parts, "\n"))
}

// block is one numbered entry before its sequence number is assigned.
type block struct {
	ratio  string // " [$x.xx/mil]" or ""
	change string // "$50.00 -> $42.00(-16.0% ⬇️)" or ""
	body   string
}

func appendSection(parts *[]string, counter int, title string, blocks []block) int {
	if len(blocks) == 0 {
		return counter
	}
	*parts = append(*parts, "\n"+title, sectionSeparator)
	for _, b := range blocks {
		counter++
		header := fmt.Sprintf("#%d%s", counter, b.ratio)
		if b.change != "" {
			header += "\n" + b.change
		}
		*parts = append(*parts, header, b.body, "")
	}
	// Drop the trailing blank line before the footer.
	*parts = (*parts)[:len(*parts)-1]
	*parts = append(*parts, sectionFooter)
	return counter
}

func offerBlocks(offers []offer.Offer) []block {
	out := make([]block, 0, len(offers))
	for _, o := range offers {
		out = append(out, block{
			ratio: ratio(o.Price, o.SP),
			body:  body(o.Description, o.Price, o.PriceText, o.SP, o.Link),
		})
	}
	return out
}

func changeBlocks(list []offer.PriceChange, arrow string) []block {
	out := make([]block, 0, len(list))
	for _, pc := range list {
		o := pc.Offer
		change := ""
		if o.Price != nil {
			change = fmt.Sprintf("$%.2f -> $%.2f(-%.1f%% %s)", pc.LastPrice, *o.Price, pc.Percent, arrow)
			if arrow == "⬆️" {
				change = fmt.Sprintf("$%.2f -> $%.2f(+%.1f%% %s)", pc.LastPrice, *o.Price, pc.Percent, arrow)
			}
		}
		out = append(out, block{
			ratio:  ratio(o.Price, o.SP),
			change: change,
			body:   body(o.Description, o.Price, o.PriceText, o.SP, o.Link),
		})
	}
	return out
}

func stateBlocks(states []*offer.State) []block {
	out := make([]block, 0, len(states))
	for _, st := range states {
		out = append(out, block{
			ratio: ratio(st.Price, st.SP),
			body:  body(st.Description, st.Price, st.PriceText, st.SP, st.Link),
		})
	}
	return out
}

// ratio renders the price-per-million-skill-points marker when both values
// are available.
func ratio(price, sp *float64) string {
	if price == nil || sp == nil || *sp <= 0 {
		return ""
	}
	return fmt.Sprintf(" [$%.2f/mil]", *price / *sp)
}

func body(description string, price *float64, priceText string, sp *float64, link string) string {
	priceStr := priceText
	if priceStr == "" {
		priceStr = "Price N/A"
	}
	if price != nil {
		priceStr = fmt.Sprintf("$%.2f", *price)
	}
	spStr := "SP N/A"
	if sp != nil {
		spStr = fmt.Sprintf("%.1fmil", *sp)
	}

	lines := []string{
		"Desc: " + truncateDescription(description),
		"Price: " + priceStr,
		"SP: " + spStr,
		"Link: " + link,
	}
	return strings.Join(lines, "\n")
}

// truncateDescription collapses whitespace and shortens the description to
// the character budget, preferring to keep a trailing "X m SP" suffix
// intact since that is the signal buyers scan for. Cuts never split a rune;
// descriptions are frequently Cyrillic.
func truncateDescription(description string) string {
	desc := strings.Join(strings.Fields(description), " ")
	if len(desc) <= descriptionBudget {
		return desc
	}

	loc := spSuffix.FindStringIndex(desc)
	if loc == nil {
		cut := descriptionBudget
		for cut > 0 && !utf8.RuneStart(desc[cut]) {
			cut--
		}
		return desc[:cut] + "..."
	}

	suffixLen := len(desc) - loc[0]
	if suffixLen < descriptionBudget {
		// Keep the tail of the description up to the budget, suffix included.
		start := len(desc) - descriptionBudget + 3
		for start < len(desc) && !utf8.RuneStart(desc[start]) {
			start++
		}
		return "..." + desc[start:]
	}
	return "..." + desc[loc[0]:]
}
