package notification

import (
	"fmt"
	"html"
	"strings"
)

// BaseScanTxURL is the explorer prefix for transaction links
const BaseScanTxURL = "https://basescan.org/tx/"

var kindTitles = map[Kind]string{
	KindDetected: "🔍 New token detected",
	KindBuy:      "🟢 Buy executed",
	KindSell:     "🔴 Sell executed",
	KindFailed:   "⚠️ Trade failed",
}

// FormatHTML renders event as a Telegram HTML message
func FormatHTML(e TradeEvent) string {
	title, ok := kindTitles[e.Kind]
	if !ok {
		title = string(e.Kind)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "<b>%s</b>\n", html.EscapeString(title))

	token := e.Token
	if e.Symbol != "" {
		token = e.Symbol + " (" + e.Token + ")"
	}
	fmt.Fprintf(&b, "Token: <code>%s</code>\n", html.EscapeString(token))

	line := func(label, value string) {
		if value != "" {
			fmt.Fprintf(&b, "%s: %s\n", label, html.EscapeString(value))
		}
	}
	line("DEX", e.DEX)
	line("Priority", e.Priority)
	line("Direction", e.Direction)
	line("Amount in", e.AmountIn)
	line("Amount out", e.AmountOut)
	line("Status", e.Status)
	line("Reason", e.Reason)
	if e.Kind == KindSell && e.PnLPercent != 0 {
		fmt.Fprintf(&b, "PnL: %+.2f%%\n", e.PnLPercent)
	}
	if e.TxHash != "" {
		fmt.Fprintf(&b, "<a href=\"%s%s\">View transaction</a>\n", BaseScanTxURL, html.EscapeString(e.TxHash))
	}

	return strings.TrimRight(b.String(), "\n")
}
