package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"github.com/MJE43/plinko-engine/internal/drop"
	"github.com/MJE43/plinko-engine/internal/games"
	"github.com/MJE43/plinko-engine/internal/scan"
	"github.com/MJE43/plinko-engine/internal/store"
)

const maxBodyBytes = 1 << 20

// decode reads a JSON body into dst and validates it.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: decode body: %v", errInvalidParams, err)
	}
	return s.validator.ValidateStruct(dst)
}

// queryInt parses an optional integer query parameter.
func queryInt(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be an integer", errInvalidParams, name)
	}
	return v, nil
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, GetVersionInfo())
}

// handleBoard returns the layout for ?rows=&risk=, defaulting to the server board.
func (s *Server) handleBoard(w http.ResponseWriter, r *http.Request) {
	base, err := s.boards.Default()
	if err != nil {
		s.errorHandler.HandleError(w, r, err)
		return
	}

	q := r.URL.Query()
	rows, risk, err := games.ParamsFromMap(map[string]any{
		"rows": q.Get("rows"),
		"risk": q.Get("risk"),
	}, base.Rows(), base.Config().Risk)
	if err != nil {
		s.errorHandler.HandleError(w, r, fmt.Errorf("%w: %v", errInvalidParams, err))
		return
	}

	b, err := s.boards.Get(rows, risk)
	if err != nil {
		s.errorHandler.HandleError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, b.Layout())
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if s.drops == nil {
		s.errorHandler.HandleError(w, r, drop.ErrStopped)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"pending":  s.drops.Pending(),
		"stopped":  s.drops.Stopped(),
		"snapshot": s.drops.Snapshot(),
	})
}

// handleDrop debits the bet, waits for the ball to land and returns the
// settled drop with the new balance.
func (s *Server) handleDrop(w http.ResponseWriter, r *http.Request) {
	var req DropRequest
	if err := s.decode(w, r, &req); err != nil {
		s.errorHandler.HandleError(w, r, err)
		return
	}
	if s.settler == nil {
		s.errorHandler.HandleError(w, r, drop.ErrStopped)
		return
	}

	ctx := r.Context()
	if s.dropTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.dropTimeout)
		defer cancel()
	}
	result, err := s.settler.Place(ctx, drop.DropRequest{UserID: req.UserID, Bet: req.Bet})
	if err != nil {
		s.errorHandler.HandleError(w, r, err)
		return
	}

	user, err := s.db.GetUser(ctx, req.UserID)
	if err != nil {
		s.errorHandler.HandleError(w, r, err)
		return
	}

	s.log.WithFields(logrus.Fields{
		"drop":       result.DropID,
		"user":       result.UserID,
		"bet":        result.Bet,
		"sink":       result.Sink,
		"multiplier": result.Multiplier,
		"payout":     result.Payout,
	}).Info("drop settled")

	s.writeJSON(w, http.StatusOK, DropResponse{
		Drop:          result,
		Balance:       user.Balance,
		EngineVersion: EngineVersion,
	})
}

func (s *Server) handleGetDrop(w http.ResponseWriter, r *http.Request) {
	d, err := s.db.GetDrop(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.errorHandler.HandleError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req CreateUserRequest
	if err := s.decode(w, r, &req); err != nil {
		s.errorHandler.HandleError(w, r, err)
		return
	}

	balance := s.startingBalance
	if req.Balance != nil {
		balance = *req.Balance
	}

	user, err := s.db.CreateUser(r.Context(), req.Name, balance)
	if err != nil {
		s.errorHandler.HandleError(w, r, err)
		return
	}
	s.log.WithFields(logrus.Fields{"user": user.ID, "balance": user.Balance}).Info("user created")
	s.writeJSON(w, http.StatusCreated, UserResponse{User: user})
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	user, err := s.db.GetUser(ctx, id)
	if err != nil {
		s.errorHandler.HandleError(w, r, err)
		return
	}
	stats, err := s.db.GetStats(ctx, id)
	if err != nil {
		s.errorHandler.HandleError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, UserResponse{User: user, Stats: stats})
}

func (s *Server) handleListDrops(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	page, err := queryInt(r, "page")
	if err != nil {
		s.errorHandler.HandleError(w, r, err)
		return
	}
	perPage, err := queryInt(r, "per_page")
	if err != nil {
		s.errorHandler.HandleError(w, r, err)
		return
	}

	if _, err := s.db.GetUser(ctx, id); err != nil {
		s.errorHandler.HandleError(w, r, err)
		return
	}
	list, err := s.db.ListDrops(ctx, store.DropsQuery{UserID: id, Page: page, PerPage: perPage})
	if err != nil {
		s.errorHandler.HandleError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, list)
}

// handleScan runs a distribution scan and optionally stores it.
func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	var req ScanRequest
	if err := s.decode(w, r, &req); err != nil {
		s.errorHandler.HandleError(w, r, err)
		return
	}
	if req.Seeds.Server == "" {
		s.errorHandler.HandleValidationError(w, r, "seeds.server", "server seed is required")
		return
	}

	ctx := r.Context()
	result, err := s.scanner.Scan(ctx, req.toScan())
	if err != nil {
		s.errorHandler.HandleError(w, r, err)
		return
	}

	resp := ScanResponse{
		Hits:          result.Hits,
		Summary:       result.Summary,
		EngineVersion: result.EngineVersion,
		Echo:          req,
	}
	resp.Echo.Mode = string(result.Echo.Mode)
	resp.Echo.Rows = result.Echo.Rows
	resp.Echo.Risk = result.Echo.Risk
	if resp.Hits == nil {
		resp.Hits = []scan.Hit{}
	}

	if req.Save {
		run := result.Record()
		if err := s.db.SaveScanRun(ctx, run); err != nil {
			s.errorHandler.HandleError(w, r, err)
			return
		}
		resp.RunID = run.ID
	}

	s.log.WithFields(logrus.Fields{
		"server_seed_hash": hashSeed(req.Seeds.Server),
		"mode":             result.Echo.Mode,
		"nonce_start":      req.NonceStart,
		"nonce_end":        req.NonceEnd,
		"evaluated":        result.Summary.TotalEvaluated,
		"hits":             len(result.Hits),
		"timed_out":        result.Summary.TimedOut,
		"duration":         result.Duration,
	}).Info("scan completed")

	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListScans(w http.ResponseWriter, r *http.Request) {
	page, err := queryInt(r, "page")
	if err != nil {
		s.errorHandler.HandleError(w, r, err)
		return
	}
	perPage, err := queryInt(r, "per_page")
	if err != nil {
		s.errorHandler.HandleError(w, r, err)
		return
	}

	list, err := s.db.ListScanRuns(r.Context(), store.RunsQuery{
		Mode:    r.URL.Query().Get("mode"),
		Page:    page,
		PerPage: perPage,
	})
	if err != nil {
		s.errorHandler.HandleError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleGetScan(w http.ResponseWriter, r *http.Request) {
	run, err := s.db.GetScanRun(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.errorHandler.HandleError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, run)
}
