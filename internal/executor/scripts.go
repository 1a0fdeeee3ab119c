// internal/executor/scripts.go
package executor

// markFn highlights a mutated control and its row and keeps one badge per
// control reading "original -> current". The original is the value before
// the first fill, so repeated fills refresh the badge instead of stacking.
const markFn = `
  const mark = (el, prev, next, color, cls) => {
    el.style.outline = '2px solid ' + color;
    el.style.backgroundColor = 'rgba(255, 235, 59, 0.35)';
    const row = el.closest('tr');
    if (row) { row.style.backgroundColor = 'rgba(255, 235, 59, 0.18)'; }
    const host = el.parentElement || el;
    let badge = host.querySelector('.' + cls);
    if (!badge) {
      badge = document.createElement('span');
      badge.className = cls;
      badge.setAttribute('data-original', prev);
      badge.style.cssText = 'margin-left:6px;padding:1px 6px;border-radius:8px;font-size:11px;color:#000;background:' + color;
      host.appendChild(badge);
    }
    badge.textContent = badge.getAttribute('data-original') + ' → ' + next;
  };
`

// foldFn mirrors extract.Fold closely enough for keyword checks.
const foldFn = `
  const fold = (s) => String(s || '').normalize('NFD').replace(/[\u0300-\u036f]/g, '').toLowerCase().replace(/\s+/g, ' ').trim();
  const denied = (el, deny) => {
    const text = fold([el.innerText, el.value, el.getAttribute('aria-label'), el.getAttribute('title'), el.id, el.getAttribute('name')].join(' '));
    for (let i = 0; i < deny.length; i++) {
      if (text.indexOf(deny[i]) >= 0) { return deny[i]; }
    }
    return '';
  };
`

// setValueFn assigns through the native setter so frameworks that track the
// value property see the edit, then fires input and change.
const setValueFn = `
  const setValue = (el, v) => {
    const proto = Object.getPrototypeOf(el);
    const desc = Object.getOwnPropertyDescriptor(proto, 'value');
    if (desc && desc.set) { desc.set.call(el, v); } else { el.value = v; }
    el.dispatchEvent(new Event('input', { bubbles: true }));
    el.dispatchEvent(new Event('change', { bubbles: true }));
  };
  const selectedText = (el) => {
    const o = el.options[el.selectedIndex];
    if (!o) { return ''; }
    const t = o.text.replace(/\s+/g, ' ').trim();
    if (o.value === '' || t.indexOf('--') === 0 || t.toLowerCase().indexOf('seleccion') === 0) { return ''; }
    return t;
  };
`

// FillScript sets the control at ordinal a.ctl among input/select/textarea.
// The row must still carry a.label, otherwise the page changed since
// extraction and the script reports "stale" without touching anything.
const FillScript = `(a) => {` + markFn + setValueFn + `
  const el = document.querySelectorAll('input, select, textarea')[a.ctl];
  if (!el) { return { status: 'missing' }; }
  const row = el.closest('tr');
  const norm = (s) => String(s || '').replace(/\s+/g, ' ').trim().toLowerCase();
  if (a.label && row && norm(row.innerText).indexOf(norm(a.label)) < 0) { return { status: 'stale' }; }
  let prev = '';
  let next = '';
  if (el.tagName === 'SELECT') {
    prev = selectedText(el);
    let idx = -1;
    for (let i = 0; i < el.options.length; i++) {
      if (el.options[i].text.replace(/\s+/g, ' ').trim() === a.value) { idx = i; break; }
    }
    if (idx < 0) { return { status: 'no_option', prev: prev }; }
    el.selectedIndex = idx;
    el.dispatchEvent(new Event('input', { bubbles: true }));
    el.dispatchEvent(new Event('change', { bubbles: true }));
    next = selectedText(el);
  } else {
    prev = el.value;
    el.focus();
    setValue(el, a.value);
    next = el.value;
  }
  mark(el, prev, next, a.color, a.badge);
  return { status: 'ok', prev: prev, next: next };
}`

// ClickScript clicks the indexed element unless its live text hits the denylist.
const ClickScript = `(a) => {` + foldFn + `
  const el = document.querySelector('[' + a.attr + '="' + a.idx + '"]');
  if (!el) { return { status: 'missing' }; }
  const hit = denied(el, a.deny);
  if (hit) { return { status: 'forbidden', keyword: hit }; }
  el.scrollIntoView({ block: 'center' });
  el.click();
  return { status: 'ok' };
}`

// TypeScript writes text into the indexed control, overwriting or appending.
const TypeScript = `(a) => {` + foldFn + markFn + setValueFn + `
  const el = document.querySelector('[' + a.attr + '="' + a.idx + '"]');
  if (!el) { return { status: 'missing' }; }
  const hit = denied(el, a.deny);
  if (hit) { return { status: 'forbidden', keyword: hit }; }
  const tag = el.tagName;
  if (tag !== 'INPUT' && tag !== 'TEXTAREA') { return { status: 'not_editable', tag: tag.toLowerCase() }; }
  const prev = el.value;
  el.focus();
  if (a.clear && el.select) { el.select(); }
  setValue(el, a.clear ? a.text : prev + a.text);
  mark(el, prev, el.value, a.color, a.badge);
  return { status: 'ok', prev: prev, next: el.value };
}`

// SelectScript picks an option of the indexed select: exact value first, then
// the first label containing the requested text.
const SelectScript = `(a) => {` + foldFn + markFn + setValueFn + `
  const el = document.querySelector('[' + a.attr + '="' + a.idx + '"]');
  if (!el) { return { status: 'missing' }; }
  const hit = denied(el, a.deny);
  if (hit) { return { status: 'forbidden', keyword: hit }; }
  if (el.tagName !== 'SELECT') { return { status: 'not_select', tag: el.tagName.toLowerCase() }; }
  let idx = -1;
  for (let i = 0; i < el.options.length; i++) {
    if (el.options[i].value === a.value) { idx = i; break; }
  }
  if (idx < 0) {
    const want = fold(a.value);
    for (let i = 0; i < el.options.length; i++) {
      if (fold(el.options[i].text).indexOf(want) >= 0) { idx = i; break; }
    }
  }
  const labels = [];
  for (let i = 0; i < el.options.length; i++) { labels.push(el.options[i].text.trim()); }
  if (idx < 0) { return { status: 'no_option', options: labels }; }
  const prev = selectedText(el);
  el.selectedIndex = idx;
  el.dispatchEvent(new Event('input', { bubbles: true }));
  el.dispatchEvent(new Event('change', { bubbles: true }));
  const next = el.options[idx].text.replace(/\s+/g, ' ').trim();
  mark(el, prev, next, a.color, a.badge);
  return { status: 'ok', prev: prev, next: next };
}`
