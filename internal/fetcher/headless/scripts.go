package headless

// scrollFractions are the page-height fractions scrolled to in order.
var scrollFractions = []string{"1/3", "2/3", "1"}

const (
	scrollJS     = `window.scrollTo(0, document.body.scrollHeight*%s)`
	readyStateJS = `document.readyState === 'complete'`
)

// dismissOverlaysJS clicks the first visible consent or close control and
// reports whether it found one.
const dismissOverlaysJS = `(() => {
  const selectors = [
    '.cookie-accept', '#cookie-accept', '.accept-cookies', '#accept-cookies',
    '.cookie-banner button', '.cookie-consent button', '.gdpr-accept', '.consent-accept',
    '.modal-close', '.popup-close', '.dialog-close', '[aria-label="Close"]',
    '[data-dismiss="modal"]', 'button.close', 'span.close',
    '.newsletter-dismiss', '.subscription-close', '.newsletter-close'
  ];
  const phrases = ['accept', 'agree', 'allow', 'no thanks', 'skip', 'later', 'not now'];
  const visible = el => {
    const r = el.getBoundingClientRect();
    return r.width > 0 && r.height > 0 && !el.disabled;
  };
  const click = el => {
    try { el.scrollIntoView(true); el.click(); return true; } catch (e) { return false; }
  };
  for (const button of document.querySelectorAll('button')) {
    const text = (button.innerText || '').toLowerCase();
    if (phrases.some(p => text.includes(p)) && visible(button) && click(button)) {
      return true;
    }
  }
  for (const sel of selectors) {
    for (const el of document.querySelectorAll(sel)) {
      if (visible(el) && click(el)) {
        return true;
      }
    }
  }
  return false;
})()`
