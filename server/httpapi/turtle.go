package httpapi

import (
	"net/http"

	"github.com/Speedy6451/avarus/server/turtle"
	"github.com/Speedy6451/avarus/server/world"
)

// newTurtleRequest is the body of POST /turtle/new.
type newTurtleRequest struct {
	Fuel      uint32   `json:"fuel"`
	FuelLimit uint32   `json:"fuellimit"`
	Position  cellJSON `json:"position"`
	Facing    string   `json:"facing"`
}

type newTurtleResponse struct {
	Name    string `json:"name"`
	ID      uint32 `json:"id"`
	Command string `json:"command"`
}

func (a *App) handleNew(w http.ResponseWriter, r *http.Request) {
	var req newTurtleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	dir, err := directionFromString(req.Facing)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	pos := world.Position{Cell: req.Position.toCell(), Dir: dir}
	id, name := a.srv.RegisterTurtle(req.Fuel, req.FuelLimit, pos)
	writeJSON(w, http.StatusOK, newTurtleResponse{
		Name:    name,
		ID:      id,
		Command: turtle.ReloadCode.String(),
	})
}

func (a *App) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "bad turtle id")
		return
	}

	var req updateJSON
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	result, err := req.Ret.toResponse()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	cmd, ok := a.srv.Update(id, turtle.Update{
		Fuel:   req.Fuel,
		Ahead:  req.Ahead,
		Above:  req.Above,
		Below:  req.Below,
		Result: result,
	})
	if !ok {
		// Unknown robot: tell it to re-register, per spec.md section 7.
		writeJSON(w, http.StatusOK, commandJSON{Kind: turtle.ReloadCode.String()})
		return
	}
	writeJSON(w, http.StatusOK, commandToJSON(cmd))
}

func (a *App) handleSetPosition(w http.ResponseWriter, r *http.Request) {
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
	if !a.srv.SetPosition(id, pos) {
		writeError(w, http.StatusNotFound, "unknown turtle")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *App) handleRegister(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "bad turtle id")
		return
	}
	if !a.srv.ReRegister(id) {
		writeError(w, http.StatusNotFound, "unknown turtle")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
