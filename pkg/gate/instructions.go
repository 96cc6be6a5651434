package gate

import (
	"fmt"
	"io"
	"strings"
)

// ShowGateInstructions tells the operator how to clear the gate by hand.
func ShowGateInstructions(w io.Writer, labels []string) {
	label := "Yes"
	if len(labels) > 0 {
		label = labels[0]
	}

	fmt.Fprintln(w, strings.Repeat("=", 80))
	fmt.Fprintln(w, "🔞 AGE VERIFICATION REQUIRED")
	fmt.Fprintln(w, strings.Repeat("=", 80))
	fmt.Fprintln(w)
	fmt.Fprintln(w, "The site is showing its age-verification page and the button could not")
	fmt.Fprintln(w, "be pressed automatically.")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "👉 STEP 1: Switch to the browser window opened by docharvest")
	fmt.Fprintf(w, "👉 STEP 2: Click %q (solve any challenge shown)\n", label)
	fmt.Fprintln(w, "👉 STEP 3: Wait until the disclosure page has loaded")
	fmt.Fprintln(w, "👉 STEP 4: Come back here and press Enter")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "💡 The session is saved afterwards, so later runs can use --headless.")
	fmt.Fprintln(w, strings.Repeat("=", 80))
}
