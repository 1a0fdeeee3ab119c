package browser

// ElementIndexAttr tags elements indexed by IndexElementsScript.
const ElementIndexAttr = "data-labcore-idx"

// CountSelectorScript returns how many elements match a CSS selector.
const CountSelectorScript = `(sel) => document.querySelectorAll(sel).length`

// ReadyStateScript returns document.readyState.
const ReadyStateScript = `() => document.readyState`

// SyncFormStateScript copies live control state (value, checked, selected) into
// attributes so that the serialized DOM reflects what the user sees.
const SyncFormStateScript = `() => {
  let n = 0;
  document.querySelectorAll('input').forEach((el) => {
    const t = (el.getAttribute('type') || 'text').toLowerCase();
    if (t === 'checkbox' || t === 'radio') {
      if (el.checked) { el.setAttribute('checked', 'checked'); } else { el.removeAttribute('checked'); }
    } else if (t !== 'file' && t !== 'password') {
      el.setAttribute('value', el.value);
    }
    n++;
  });
  document.querySelectorAll('textarea').forEach((el) => { el.textContent = el.value; n++; });
  document.querySelectorAll('select').forEach((el) => {
    for (let i = 0; i < el.options.length; i++) {
      if (i === el.selectedIndex) { el.options[i].setAttribute('selected', 'selected'); }
      else { el.options[i].removeAttribute('selected'); }
    }
    n++;
  });
  return n;
}`

// IndexElementsScript tags every visible interactive element with a sequential
// index and returns a description of each.
const IndexElementsScript = `(attr) => {
  document.querySelectorAll('[' + attr + ']').forEach((el) => el.removeAttribute(attr));
  const sel = 'a[href], button, input:not([type=hidden]), select, textarea, [role=button], [role=link], [onclick]';
  const out = [];
  const visible = (el) => {
    const r = el.getBoundingClientRect();
    if (r.width < 1 || r.height < 1) { return false; }
    const st = window.getComputedStyle(el);
    return st.visibility !== 'hidden' && st.display !== 'none';
  };
  document.querySelectorAll(sel).forEach((el) => {
    if (!visible(el)) { return; }
    const idx = out.length;
    el.setAttribute(attr, String(idx));
    const text = (el.innerText || el.value || el.getAttribute('aria-label') || el.getAttribute('title') || '').trim();
    out.push({
      index: idx,
      tag: el.tagName.toLowerCase(),
      type: (el.getAttribute('type') || '').toLowerCase(),
      text: text.slice(0, 200),
      name: el.getAttribute('name') || '',
      id: el.id || '',
      role: el.getAttribute('role') || '',
      disabled: !!el.disabled
    });
  });
  return out;
}`

// ActiveElementTextScript returns the display text of the focused element.
const ActiveElementTextScript = `() => {
  const el = document.activeElement;
  if (!el || el === document.body) { return ''; }
  return (el.innerText || el.value || el.getAttribute('aria-label') || el.getAttribute('title') || '').trim();
}`

// FormSubmitTextsScript lists what pressing Enter in the focused control would
// submit through: the text of each submit control of its form, and the form's
// action. It returns an empty list when nothing is focused or there is no form.
const FormSubmitTextsScript = `() => {
  const el = document.activeElement;
  const form = el ? (el.form || (el.closest ? el.closest('form') : null)) : null;
  if (!form) { return []; }
  const out = [];
  const action = form.getAttribute('action');
  if (action) { out.push(action); }
  const controls = form.querySelectorAll('button, input');
  for (let i = 0; i < controls.length; i++) {
    const c = controls[i];
    const type = String(c.getAttribute('type') || (c.tagName === 'BUTTON' ? 'submit' : '')).toLowerCase();
    if (type !== 'submit' && type !== 'image') { continue; }
    const parts = [c.innerText, c.value, c.getAttribute('aria-label'), c.getAttribute('title'), c.id, c.getAttribute('name')];
    out.push(parts.filter((p) => p).join(' ').trim());
  }
  return out;
}`

// ScrollScript scrolls the window by a delta and returns the new offsets.
const ScrollScript = `(d) => {
  window.scrollBy(d.dx, d.dy);
  return { x: window.scrollX, y: window.scrollY, viewport: window.innerHeight };
}`
