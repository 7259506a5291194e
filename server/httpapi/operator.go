package httpapi

import "net/http"

func (a *App) handleCreateMine(w http.ResponseWriter, r *http.Request) {
	var req cellJSON
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	a.srv.CreateMine(req.toCell())
	w.WriteHeader(http.StatusNoContent)
}

func (a *App) handleCreateTreeFarm(w http.ResponseWriter, r *http.Request) {
	var req cellJSON
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	a.srv.CreateTreeFarm(req.toCell())
	w.WriteHeader(http.StatusNoContent)
}

func (a *App) handleBuild(w http.ResponseWriter, r *http.Request) {
	var req cellJSON
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.srv.Build(req.toCell()); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *App) handleRegisterDepot(w http.ResponseWriter, r *http.Request) {
	var req positionJSON
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	pos, err := req.toPosition()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	a.srv.RegisterDepot(pos)
	w.WriteHeader(http.StatusNoContent)
}

func (a *App) handleSetGoal(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "bad turtle id")
		return
	}
	var req positionJSON
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	pos, err := req.toPosition()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !a.srv.SetGoal(id, pos) {
		writeError(w, http.StatusConflict, "turtle unknown or busy")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *App) handleDock(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "bad turtle id")
		return
	}
	if !a.srv.Dock(id) {
		writeError(w, http.StatusConflict, "turtle unknown or busy")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *App) handleManual(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "bad turtle id")
		return
	}
	var req commandJSON
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	cmd, err := req.toCommand()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	reply, err, found := a.srv.Manual(r.Context(), id, cmd)
	if !found {
		writeError(w, http.StatusNotFound, "unknown turtle")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Position positionJSON `json:"position"`
		Fuel     uint32       `json:"fuel"`
		Ahead    string       `json:"ahead"`
		Above    string       `json:"above"`
		Below    string       `json:"below"`
	}{
		Position: positionToJSON(reply.Position),
		Fuel:     reply.Fuel,
		Ahead:    reply.Ahead,
		Above:    reply.Above,
		Below:    reply.Below,
	})
}

func (a *App) handleCancelTask(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "bad turtle id")
		return
	}
	if !a.srv.CancelTask(id) {
		writeError(w, http.StatusNotFound, "unknown turtle")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *App) handleInfo(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "bad turtle id")
		return
	}
	info, ok := a.srv.Info(id)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown turtle")
		return
	}
	writeJSON(w, http.StatusOK, struct {
		ID       uint32       `json:"id"`
		Name     string       `json:"name"`
		Position positionJSON `json:"position"`
		Fuel     uint32       `json:"fuel"`
	}{
		ID:       info.ID,
		Name:     info.Name,
		Position: positionToJSON(info.Position),
		Fuel:     info.Fuel,
	})
}
