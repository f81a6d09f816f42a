package walmart

// searchCardsJS reads up to max product cards of a search results page.
const searchCardsJS = `(max) => {
	const out = [];
	for (const card of document.querySelectorAll("div[role='group']")) {
		const link = card.querySelector("a[href*='/ip/']");
		if (!link) continue;
		const nameEl = link.querySelector('span.w_iUH7') || card.querySelector("[data-automation-id='product-title']");
		const text = card.innerText || '';
		const bought = (text.match(/bought\s+\d+\+?\s*times?/i) || [''])[0];
		out.push({
			id: card.getAttribute('data-item-id') || '',
			href: link.getAttribute('href') || '',
			name: ((nameEl && nameEl.textContent) || link.textContent || '').trim(),
			bought: bought,
			outOfStock: /out of stock/i.test(text) || !!card.querySelector("[data-automation-id='out-of-stock']"),
		});
		if (out.length >= max) break;
	}
	return JSON.stringify(out);
}`

// historyTilesJS reads the tiles of one My Items page.
const historyTilesJS = `() => {
	const out = [];
	for (const tile of document.querySelectorAll("[data-item-id], [data-product-id], .my-items-tile")) {
		const link = tile.querySelector("a[href*='/ip/']");
		const nameEl = tile.querySelector("[data-automation-id='product-title']") || tile.querySelector('span.w_iUH7');
		const img = tile.querySelector('img[alt]');
		const text = tile.innerText || '';
		out.push({
			id: tile.getAttribute('data-item-id') || tile.getAttribute('data-product-id') || '',
			href: link ? link.getAttribute('href') || '' : '',
			name: ((nameEl && nameEl.textContent) || (link && link.textContent) || (img && img.alt) || '').trim(),
			bought: (text.match(/bought\s+\d+\+?\s*times?/i) || [''])[0],
			outOfStock: /out of stock/i.test(text),
		});
	}
	return JSON.stringify(out);
}`

// findTileJS binds tile to the My Items tile of product id, or null.
const findTileJS = `	const esc = CSS.escape(id);
	let tile = document.querySelector('[data-item-id="' + esc + '"], [data-product-id="' + esc + '"]');
	if (!tile) {
		const link = [...document.querySelectorAll("a[href*='/ip/']")].find(a => (a.getAttribute('href') || '').includes('/' + id));
		tile = link && link.closest("[data-item-id], [data-product-id], .my-items-tile, div[role='group']");
	}`

// tileAddJS clicks the add button of the tile holding product id. It
// returns "missing", "in-cart", "no-button" or "clicked".
const tileAddJS = `(id) => {
` + findTileJS + `
	if (!tile) return 'missing';
	if (tile.querySelector("div[data-testid='quantity-stepper']")) return 'in-cart';
	const btn = tile.querySelector("button[data-automation-id='add-to-cart']") ||
		[...tile.querySelectorAll('button')].find(b => /add/i.test(b.textContent || ''));
	if (!btn) return 'no-button';
	btn.click();
	return 'clicked';
}`

// tileIncreaseJS clicks the increase quantity button of a tile.
const tileIncreaseJS = `(id) => {
` + findTileJS + `
	const btn = tile && tile.querySelector("button[aria-label*='Increase quantity']");
	if (!btn) return false;
	btn.click();
	return true;
}`

// tileStatusJS reports "missing", "in-cart" when the tile shows its
// quantity stepper, or "idle".
const tileStatusJS = `(id) => {
` + findTileJS + `
	if (!tile) return 'missing';
	if (tile.querySelector("div[data-testid='quantity-stepper'], button[aria-label*='Increase quantity']")) return 'in-cart';
	return 'idle';
}`

// robotCheckJS detects the press-and-hold bot challenge.
const robotCheckJS = `() => !!document.body && /robot or human\?/i.test(document.body.innerText || '')`

var (
	addButtonSelectors = []string{
		"button[data-automation-id='add-to-cart']",
		"button[aria-label*='Add to cart']",
		"button",
	}
	addButtonTexts    = []string{"Add to cart"}
	increaseSelectors = []string{"button[aria-label*='Increase quantity']"}
	addedSelectors    = []string{
		"div[data-testid='quantity-stepper']",
		"button[data-testid='quantity-in-cart']",
		"[data-automation-id='cart-confirmation']",
	}
	// addedToastSelectors match the page-level add confirmation only; tile
	// steppers elsewhere on My Items belong to other products.
	addedToastSelectors = []string{
		"[data-automation-id='cart-confirmation']",
		"[data-testid='atc-toast']",
	}
	unavailableTexts    = []string{"Out of stock", "Not available", "Unavailable"}
	closeModalSelectors = []string{
		"button[aria-label='Close']",
		"button[aria-label='close']",
		"[role='dialog'] button[aria-label*='lose']",
	}

	loginURLMarkers = []string{"/account/login", "/signin", "/login"}

	emailSelector     = "input[type='email']:not([aria-hidden='true']), input[type='tel']:not([aria-hidden='true']), input[type='text']:not([aria-hidden='true'])"
	passwordSelector  = "input[type='password']:not([aria-hidden='true'])"
	passwordRadio     = []string{"input[type='radio'][value='password']"}
	rememberSelectors = []string{"input[type='checkbox'][name*='remember']", "input[type='checkbox']#remember"}
	submitSelectors   = []string{"button[type='submit']", "button"}
)
