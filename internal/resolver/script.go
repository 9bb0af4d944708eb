package resolver

import (
	"encoding/json"
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// MarkAttr is the attribute set on the element a locator resolved to.
const MarkAttr = "data-e2e-target"

// MarkedSelector returns the CSS selector of the element tagged with mark.
func MarkedSelector(mark string) string {
	return fmt.Sprintf(`[%s=%q]`, MarkAttr, mark)
}

// Script returns a JavaScript expression evaluating to the number of
// elements matching loc. Hidden elements are skipped unless allowHidden is
// set. When mark is non-empty the first match is tagged with MarkAttr and
// any previous element carrying the same mark is untagged.
func Script(loc Locator, mark string, allowHidden bool) string {
	var find string
	switch loc.Kind {
	case KindXPath:
		find = fmt.Sprintf(`const r = document.evaluate(%s, document, null, XPathResult.ORDERED_NODE_SNAPSHOT_TYPE, null);
		for (let i = 0; i < r.snapshotLength; i++) { const n = r.snapshotItem(i); if (n.nodeType === 1) all.push(n); }`, jsString(loc.Value))
	case KindText:
		find = fmt.Sprintf(`const want = %s;
		const norm = s => (s || '').normalize('NFC').replace(/\s+/g, ' ').trim();
		for (const el of document.querySelectorAll('body *')) {
			if (!norm(el.innerText).includes(want)) continue;
			if (Array.from(el.children).some(c => norm(c.innerText).includes(want))) continue;
			all.push(el);
		}`, jsString(normalizeNeedle(loc.Value)))
	case KindID:
		find = fmt.Sprintf(`const el = document.getElementById(%s); if (el) all.push(el);`, jsString(loc.Value))
	default:
		find = fmt.Sprintf(`all.push(...document.querySelectorAll(%s));`, jsString(loc.Value))
	}

	return fmt.Sprintf(`(() => {
	const all = [];
	%s
	const visible = el => {
		const style = window.getComputedStyle(el);
		return el.getClientRects().length > 0 && style.display !== 'none' && style.visibility !== 'hidden' && style.opacity !== '0';
	};
	const matches = %t ? all : all.filter(visible);
	const mark = %s;
	if (mark) {
		for (const el of document.querySelectorAll('[%s="' + mark + '"]')) el.removeAttribute('%s');
		if (matches.length > 0) matches[0].setAttribute('%s', mark);
	}
	return matches.length;
})()`, find, allowHidden, jsString(mark), MarkAttr, MarkAttr, MarkAttr)
}

// normalizeNeedle mirrors the in-page normalization of text locators.
func normalizeNeedle(s string) string {
	return strings.Join(strings.Fields(norm.NFC.String(s)), " ")
}

// jsString renders s as a JavaScript string literal.
func jsString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
