package browser

import (
	"encoding/json"
	"fmt"

	"github.com/go-rod/rod"

	"github.com/Lechros/chatda/internal/adapter"
	"github.com/Lechros/chatda/internal/overlay"
)

// hookScript runs before any host script on every document in the overlay
// tab. Clicks on overlay-tagged nodes and hover on the summary bubble are
// queued on window.__chatdaEvents; window.chatda.dispatch lets panel markup
// queue its own events. Compare affordances are shown on hover in the page
// itself: the icon while its item is hovered, the label while the button is.
var hookScript = fmt.Sprintf(`(() => {
	const w = window;
	if (w.__chatdaHooked) return;
	w.__chatdaHooked = true;
	w.__chatdaEvents = [];
	const push = (ev) => { try { w.__chatdaEvents.push(ev); } catch (e) {} };
	w.chatda = { dispatch: push };

	document.addEventListener('click', (ev) => {
		const t = ev.target;
		const el = t && t.closest ? t.closest('[%[1]s]') : null;
		if (!el) return;
		push({
			type: el.getAttribute('%[1]s'),
			item: el.getAttribute('%[2]s') || '',
			kind: el.getAttribute('data-chatda-kind') || '',
		});
	}, true);

	const hover = (type) => (ev) => {
		const t = ev.target;
		if (t && t.matches && t.matches('[%[3]s="bubble"]')) push({ type });
	};
	document.addEventListener('mouseenter', hover('%[4]s'), true);
	document.addEventListener('mouseleave', hover('%[5]s'), true);

	const compareHover = (on) => (ev) => {
		const t = ev.target;
		if (!t || !t.matches || !t.querySelector) return;
		if (t.matches('[%[3]s="compare"]')) {
			const icon = t.querySelector('img');
			if (icon) icon.width = on ? 45 : 40;
			const key = t.getAttribute('%[2]s') || '';
			const label = t.parentElement
				? t.parentElement.querySelector('[%[6]s="' + CSS.escape(key) + '"]')
				: null;
			if (label) label.style.display = on ? 'block' : 'none';
			return;
		}
		const icon = t.querySelector(':scope > [%[7]s] > img');
		if (icon) icon.style.display = on ? 'block' : 'none';
	};
	document.addEventListener('mouseenter', compareHover(true), true);
	document.addEventListener('mouseleave', compareHover(false), true);
})();`,
	adapter.AttrAction, adapter.AttrItem, adapter.AttrHover,
	overlay.EventBubbleEnter, overlay.EventBubbleLeave,
	adapter.AttrLabel, adapter.AttrCompare)

const drainJS = `() => {
	const buf = Array.isArray(window.__chatdaEvents) ? window.__chatdaEvents : [];
	window.__chatdaEvents = [];
	return buf;
}`

func drainEvents(page *rod.Page) ([]overlay.Event, error) {
	res, err := page.Eval(drainJS)
	if err != nil || res == nil {
		return nil, err
	}
	if res.Value.Nil() {
		return nil, nil
	}
	raw, err := res.Value.MarshalJSON()
	if err != nil {
		return nil, err
	}
	return decodeEvents(raw)
}

// decodeEvents parses a drained queue. Entries without a type are dropped.
func decodeEvents(raw []byte) ([]overlay.Event, error) {
	var events []overlay.Event
	if err := json.Unmarshal(raw, &events); err != nil {
		return nil, fmt.Errorf("decode page events: %w", err)
	}
	out := events[:0]
	for _, ev := range events {
		if ev.Type == "" {
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}
