package testutil

import "net/http"

const loginHTML = `<!doctype html>
<html lang="pt-BR">
<head><meta charset="utf-8"><title>Entrar</title></head>
<body>
<h1>Entrar</h1>
<form id="login">
  <label for="email">Email</label>
  <input id="email" name="email" type="email">
  <label for="senha">Senha</label>
  <input id="senha" name="senha" type="password">
  <button id="entrar" type="submit">Entrar</button>
</form>
<div id="erro" style="display:none"></div>
<script>
document.getElementById('login').addEventListener('submit', async (ev) => {
  ev.preventDefault();
  const res = await fetch('/auth/login', {
    method: 'POST',
    headers: {'Content-Type': 'application/json'},
    body: JSON.stringify({email: document.getElementById('email').value, senha: document.getElementById('senha').value}),
  });
  const body = await res.json();
  if (res.ok && body.token) {
    localStorage.setItem('token', body.token);
    location.href = '/dashboard';
    return;
  }
  const erro = document.getElementById('erro');
  erro.textContent = body.erro || 'Falha no login';
  erro.style.display = 'block';
});
</script>
</body>
</html>`

const dashboardHTML = `<!doctype html>
<html lang="pt-BR">
<head><meta charset="utf-8"><title>Dashboard</title></head>
<body>
<script>if (!localStorage.getItem('token')) location.href = '/login';</script>
<h1>Dashboard</h1>
<nav id="menu"><a href="/dashboard">Início</a> <a href="#" id="sair">Sair</a></nav>
<section id="certificado-form">
  <h2>Certificado digital</h2>
  <input id="certificado" type="file" accept=".pfx,.p12">
  <button id="enviar-certificado" type="button">Enviar certificado</button>
  <div id="certificado-status"></div>
</section>
<script>
document.getElementById('sair').addEventListener('click', () => {
  localStorage.removeItem('token');
  location.href = '/login';
});
document.getElementById('enviar-certificado').addEventListener('click', async () => {
  const input = document.getElementById('certificado');
  if (!input.files.length) return;
  const form = new FormData();
  form.append('certificado', input.files[0]);
  const res = await fetch('/me/certificado', {
    method: 'POST',
    headers: {'Authorization': 'Bearer ' + localStorage.getItem('token')},
    body: form,
  });
  const body = await res.json();
  document.getElementById('certificado-status').textContent = body.mensagem || body.erro;
});
</script>
</body>
</html>`

func writeHTML(w http.ResponseWriter, page string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(page))
}

func (a *TargetApp) loginPage(w http.ResponseWriter, r *http.Request) { writeHTML(w, loginHTML) }

func (a *TargetApp) dashboardPage(w http.ResponseWriter, r *http.Request) {
	writeHTML(w, dashboardHTML)
}
