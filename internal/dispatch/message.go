package dispatch

import (
	"fmt"
	"strings"
)

// claimAction is the opaque token the chat layer maps to a claim button.
func claimAction(o PendingOrder) string {
	return "take_order:" + o.ID.String()
}

// formatAlert renders the alert text for one pending order. The layout
// mirrors what staff are used to from the storefront chat: customer, phone,
// address, the line items and the frozen total.
func formatAlert(o PendingOrder, repeat bool) string {
	var b strings.Builder

	if repeat {
		b.WriteString("Repeat: order still unclaimed!\n\n")
	} else {
		b.WriteString("New order!\n\n")
	}

	fmt.Fprintf(&b, "Order #%s\n", shortID(o.ID))
	fmt.Fprintf(&b, "Customer: %s\n", o.CustomerName)
	if o.CustomerPhone != "" {
		fmt.Fprintf(&b, "Phone: %s\n", o.CustomerPhone)
	}
	if o.Address != "" {
		fmt.Fprintf(&b, "Address: %s\n", o.Address)
	}

	b.WriteString("\n")
	for _, line := range o.Lines {
		fmt.Fprintf(&b, "%s x %d\n", line.Name, line.Quantity)
	}
	fmt.Fprintf(&b, "\nTotal: %s", o.TotalPrice.StringFixed(2))

	return b.String()
}

// shortID keeps alert texts readable; the full UUID travels in the claim
// action token.
func shortID(id interface{ String() string }) string {
	s := id.String()
	if len(s) > 8 {
		return s[:8]
	}
	return s
}
