package amazon

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cartsync/backend/internal/domain"
)

// rowNamesJS returns, as a JSON array, the item name of every list row in
// page order. A row is the closest ancestor of a Delete button that also
// holds an Edit button; its name is the first line that is not button text
// or a timestamp.
const rowNamesJS = `() => {
	const skip = l => l === 'Edit' || l === 'Delete' || l.includes('Show search') ||
		l.includes('Added') || l.includes('Edited') || l.includes('ago');
	const names = [];
	const buttons = [...document.querySelectorAll('button')].filter(b => (b.textContent || '').trim() === 'Delete');
	for (const btn of buttons) {
		let name = '';
		let cur = btn;
		for (let i = 0; i < 10 && cur && !name; i++) {
			cur = cur.parentElement;
			if (!cur) break;
			const edit = [...cur.querySelectorAll('button')].find(b => (b.textContent || '').includes('Edit'));
			if (!edit) continue;
			const lines = (cur.innerText || cur.textContent || '').split('\n').map(l => l.trim()).filter(Boolean);
			name = lines.find(l => !skip(l) && l.length > 1 && l.length < 100) || '';
		}
		names.push(name);
	}
	return JSON.stringify(names);
}`

// deleteAtJS clicks the Delete button of the row at the given index.
const deleteAtJS = `(index) => {
	const buttons = [...document.querySelectorAll('button')].filter(b => (b.textContent || '').trim() === 'Delete');
	if (index < 0 || index >= buttons.length) return false;
	buttons[index].click();
	return true;
}`

var (
	confirmSelectors = []string{"[role='dialog'] button", "[role='alertdialog'] button"}
	confirmTexts     = []string{"Delete", "Confirm", "Yes", "OK", "Remove"}

	signinFieldSelectors = []string{"#ap_email", "#ap_password", "input[type='email']", "input[type='password'][name='password']"}
	otpSelectors         = []string{"#auth-mfa-otpcode", "input[name='otpCode']", "input[id*='otp']"}
	skipPromptSelectors  = []string{"#ap-account-fixup-phone-skip-link", "a#ap_skip_link", "button", "a"}
	skipPromptTexts      = []string{"Not now", "Skip"}

	signinURLMarkers = []string{"/ap/signin", "/ap/cvf", "/ap/mfa"}
)

// decodeRowNames parses the output of rowNamesJS.
func decodeRowNames(raw string) ([]string, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var names []string
	if err := json.Unmarshal([]byte(raw), &names); err != nil {
		return nil, fmt.Errorf("decode list rows: %w", err)
	}
	return names, nil
}

// itemsFromRows turns row names into RawItems. Rows without a name are
// skipped and repeated names fold into one item with a higher quantity.
func itemsFromRows(names []string) []domain.RawItem {
	items := make([]domain.RawItem, 0, len(names))
	index := make(map[string]int, len(names))
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		id := domain.NormalizeName(name)
		if id == "" {
			continue
		}
		if i, ok := index[id]; ok {
			items[i].Quantity++
			continue
		}
		index[id] = len(items)
		items = append(items, domain.NewRawItem(name, 1, ""))
	}
	return items
}

// identitiesFromRows returns the distinct identities of the named rows in
// page order.
func identitiesFromRows(names []string) []string {
	items := itemsFromRows(names)
	ids := make([]string, 0, len(items))
	for _, it := range items {
		ids = append(ids, it.Identity())
	}
	return ids
}

// nextTarget returns the index of the first row whose identity is in ids,
// or -1.
func nextTarget(rows []string, ids map[string]struct{}) int {
	for i, name := range rows {
		if _, ok := ids[domain.NormalizeName(name)]; ok {
			return i
		}
	}
	return -1
}

// remaining lists the identities in ids still present in rows.
func remaining(rows []string, ids map[string]struct{}) []string {
	var left []string
	seen := make(map[string]bool)
	for _, name := range rows {
		id := domain.NormalizeName(name)
		if _, ok := ids[id]; ok && !seen[id] {
			seen[id] = true
			left = append(left, id)
		}
	}
	return left
}
