package testutil

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func call(t *testing.T, method, url, token string, body []byte, contentType string) (int, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, url, bytes.NewReader(body))
	require.NoError(t, err)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func TestTargetApp_Login(t *testing.T) {
	app := NewTargetApp(t)

	status, body := call(t, "POST", app.URL()+"/auth/login", "",
		[]byte(`{"email":"admin@example.com","senha":"adminpassword"}`), "application/json")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["sucesso"])
	assert.NotEmpty(t, body["token"])

	status, body = call(t, "POST", app.URL()+"/auth/login", "",
		[]byte(`{"email":"admin@example.com","password":"wrong"}`), "application/json")
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "Credenciais inválidas", body["erro"])

	assert.Equal(t, 2, app.Requests("/auth/login"))
}

func TestTargetApp_Register(t *testing.T) {
	app := NewTargetApp(t)

	status, body := call(t, "POST", app.URL()+"/auth/register", "",
		[]byte(`{"nome":"","email":"bad","senha":"123"}`), "application/json")
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Len(t, body["errors"], 3)

	payload := []byte(`{"nome":"Nova","email":"nova@example.com","senha":"Senha12345"}`)
	status, _ = call(t, "POST", app.URL()+"/auth/register", "", payload, "application/json")
	assert.Equal(t, http.StatusCreated, status)

	status, body = call(t, "POST", app.URL()+"/auth/register", "", payload, "application/json")
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "Email já cadastrado", body["message"])
}

func TestTargetApp_AdminRequiresAdmin(t *testing.T) {
	app := NewTargetApp(t)

	status, _ := call(t, "GET", app.URL()+"/admin/usuarios", "", nil, "")
	assert.Equal(t, http.StatusUnauthorized, status)

	status, _ = call(t, "GET", app.URL()+"/admin/usuarios", app.Token(UserEmail), nil, "")
	assert.Equal(t, http.StatusForbidden, status)

	status, body := call(t, "GET", app.URL()+"/admin/usuarios", app.Token(AdminEmail), nil, "")
	assert.Equal(t, http.StatusOK, status)
	users := body["usuarios"].([]any)
	require.Len(t, users, 2)
	assert.Equal(t, AdminEmail, users[0].(map[string]any)["email"])
	assert.NotContains(t, users[0].(map[string]any), "senha")

	status, body = call(t, "GET", app.URL()+"/admin/health", app.Token(AdminEmail), nil, "")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["sucesso"])
	assert.NotContains(t, body, "status", "health details are nested")
	health, ok := body["health"].(map[string]any)
	require.True(t, ok, "health object")
	for _, key := range []string{"status", "timestamp", "uptime", "versao", "memoria"} {
		assert.Contains(t, health, key)
	}
}

func TestTargetApp_EmitRequiresCertificate(t *testing.T) {
	app := NewTargetApp(t)
	token := app.Token(UserEmail)
	nfe := []byte(`{"destinatario":{"nome":"Cliente"},"itens":[{"descricao":"Serviço","valor":100}]}`)

	status, body := call(t, "POST", app.URL()+"/nfe/emitir", token, nfe, "application/json")
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "Certificado digital não configurado", body["erro"])

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("certificado", "empresa.pfx")
	require.NoError(t, err)
	_, _ = part.Write([]byte("fake-pfx"))
	require.NoError(t, mw.Close())
	status, _ = call(t, "POST", app.URL()+"/me/certificado", token, buf.Bytes(), mw.FormDataContentType())
	require.Equal(t, http.StatusOK, status)

	status, body = call(t, "POST", app.URL()+"/nfe/emitir", token, nfe, "application/json")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["sucesso"])

	status, body = call(t, "GET", app.URL()+"/nfe/historico", token, nil, "")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(1), body["total"])
	assert.Equal(t, float64(1), body["totalPaginas"])
}
