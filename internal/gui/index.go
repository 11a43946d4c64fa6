package gui

const indexHTML = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>terminalscan</title>
<style>
body { font-family: system-ui, sans-serif; margin: 2rem; color: #1d2330; }
form, .controls { display: flex; gap: .5rem; flex-wrap: wrap; align-items: center; margin-bottom: 1rem; }
input, select, button { padding: .35rem .6rem; }
progress { width: 100%; height: 1rem; }
table { border-collapse: collapse; width: 100%; margin-top: 1rem; }
th, td { text-align: left; padding: .35rem .6rem; border-bottom: 1px solid #dde1ea; }
tr.recognized td:first-child { font-weight: 600; }
tr.generic { color: #6b7280; }
#detail { white-space: pre-wrap; background: #f5f6f9; padding: 1rem; margin-top: 1rem; display: none; }
</style>
</head>
<body>
<h1>Attendance terminals</h1>
<form id="scan">
  <label>Subnet <input id="subnet" list="subnets" placeholder="192.168.1" required></label>
  <datalist id="subnets"></datalist>
  <label>Batch <input id="batch" type="number" min="1" value="60"></label>
  <label>Timeout ms <input id="timeout" type="number" min="1" value="400"></label>
  <button type="submit">Scan</button>
</form>
<div class="controls">
  <button data-op="pause">Pause</button>
  <button data-op="resume">Resume</button>
  <button data-op="cancel">Cancel</button>
  <a href="/export">Export</a>
  <span id="message"></span>
</div>
<progress id="progress" max="100" value="0"></progress>
<table>
  <thead><tr><th>Name</th><th>Address</th><th>Firmware</th><th>Type</th><th></th></tr></thead>
  <tbody id="devices"></tbody>
</table>
<div id="detail"></div>
<script>
const devices = new Map();

function render() {
  const body = document.getElementById('devices');
  body.innerHTML = '';
  for (const d of devices.values()) {
    const row = document.createElement('tr');
    row.className = d.classification;
    row.innerHTML = '<td></td><td></td><td></td><td></td><td></td>';
    row.cells[0].textContent = d.displayName;
    row.cells[1].textContent = d.address;
    row.cells[2].textContent = d.firmwareVersion || '';
    row.cells[3].textContent = d.classification === 'recognized' ? 'terminal' : d.typeTag;
    if (d.classification === 'recognized') {
      for (const view of ['status', 'config', 'logs', 'firmware', 'latency']) {
        const b = document.createElement('button');
        b.textContent = view;
        b.onclick = () => showDetail(view, d.address);
        row.cells[4].appendChild(b);
      }
    }
    body.appendChild(row);
  }
}

function applyProgress(p) {
  document.getElementById('progress').value = p.percent;
  document.getElementById('message').textContent = p.status + (p.message ? ': ' + p.message : '');
}

async function showDetail(view, address) {
  const el = document.getElementById('detail');
  el.style.display = 'block';
  el.textContent = 'loading ' + view + '...';
  const res = await fetch('/device/' + view + '?address=' + encodeURIComponent(address));
  el.textContent = res.ok ? JSON.stringify(await res.json(), null, 2) : await res.text();
}

const events = new EventSource('/events');
events.onmessage = (msg) => {
  const ev = JSON.parse(msg.data);
  if (ev.type === 'snapshot') {
    devices.clear();
  }
  for (const d of ev.devices || []) {
    devices.set(d.address, d);
  }
  applyProgress(ev.progress);
  render();
};

document.getElementById('scan').onsubmit = async (e) => {
  e.preventDefault();
  devices.clear();
  render();
  const res = await fetch('/start', {
    method: 'POST',
    headers: {'Content-Type': 'application/json'},
    body: JSON.stringify({
      subnet: document.getElementById('subnet').value,
      batchSize: Number(document.getElementById('batch').value),
      probeTimeoutMs: Number(document.getElementById('timeout').value),
    }),
  });
  if (!res.ok) {
    document.getElementById('message').textContent = await res.text();
  }
};

for (const b of document.querySelectorAll('[data-op]')) {
  b.onclick = () => fetch('/' + b.dataset.op, {method: 'POST'});
}

fetch('/subnets').then(r => r.json()).then(data => {
  const list = document.getElementById('subnets');
  for (const s of data.subnets) {
    const o = document.createElement('option');
    o.value = s;
    list.appendChild(o);
  }
  document.getElementById('subnet').value = data.subnets[0] || '';
});
</script>
</body>
</html>
`
