package httpapi

import (
	"context"
	"net/http"
	"text/template"
	"time"
)

func (a *App) handleUpdateAll(w http.ResponseWriter, r *http.Request) {
	a.srv.UpdateAll()
	w.WriteHeader(http.StatusNoContent)
}

func (a *App) handlePollScheduler(w http.ResponseWriter, r *http.Request) {
	a.srv.PollScheduler()
	w.WriteHeader(http.StatusNoContent)
}

func (a *App) handleShutdown(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()
	if err := a.srv.Shutdown(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *App) handleFlush(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()
	if err := a.srv.Flush(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// clientLuaTemplate mirrors the original's formatdoc!-assembled client
// script: a server address/port preamble followed by the robot firmware
// body. The firmware itself is out of scope (see spec.md section 1);
// the Body field is filled with clientLuaStubBody, a placeholder comment.
var clientLuaTemplate = template.Must(template.New("client.lua").Parse(
	`local ipaddr = "{{.Addr}}"
local port = "{{.Port}}"
{{.Body}}
`))

const clientLuaStubBody = "-- robot firmware is not included in this control plane build"

func (a *App) handleClientLua(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/x-lua")
	_ = clientLuaTemplate.Execute(w, struct {
		Addr, Port, Body string
	}{
		Addr: r.Host,
		Port: a.port,
		Body: clientLuaStubBody,
	})
}
