package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ZentaChain/zentalk-icq/pkg/event"
	"github.com/ZentaChain/zentalk-icq/pkg/network"
	"github.com/ZentaChain/zentalk-icq/pkg/protocol"
	"github.com/ZentaChain/zentalk-icq/pkg/roster"
	"github.com/ZentaChain/zentalk-icq/pkg/session"
)

// errorStatus maps core errors to HTTP status codes
func errorStatus(err error) int {
	switch {
	case errors.Is(err, roster.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, session.ErrNotConnected),
		errors.Is(err, session.ErrBadTransition),
		errors.Is(err, roster.ErrGroupExists),
		errors.Is(err, roster.ErrNotOnServer):
		return http.StatusConflict
	case errors.Is(err, session.ErrQueueFull), errors.Is(err, roster.ErrListFull):
		return http.StatusServiceUnavailable
	case errors.Is(err, roster.ErrEmptyAccount),
		errors.Is(err, network.ErrNoAccount),
		errors.Is(err, protocol.ErrUnknownStatus):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// ===== SESSION =====

// SessionResponse is the GET /api/v1/session body
type SessionResponse struct {
	State       string    `json:"state"`
	Online      bool      `json:"online"`
	AccountID   string    `json:"accountId"`
	Status      string    `json:"status"`
	StatusCode  uint32    `json:"statusCode"`
	IP          string    `json:"ip,omitempty"`
	OnlineSince time.Time `json:"onlineSince,omitempty"`
}

func (s *Server) handleSession(c *gin.Context) {
	state := s.ctrl.State()
	self := s.ctrl.Self()
	status := s.ctrl.Status()
	ok(c, SessionResponse{
		State:       state.String(),
		Online:      state == session.Online,
		AccountID:   s.ctrl.AccountID(),
		Status:      protocol.StatusName(status),
		StatusCode:  status,
		IP:          self.IP,
		OnlineSince: self.OnlineSince,
	})
}

func (s *Server) handleLogon(c *gin.Context) {
	if err := s.ctrl.Logon(c.Request.Context()); err != nil {
		fail(c, errorStatus(err), "Logon failed", err)
		return
	}
	s.log.Info("🔑 Logon requested through the API")
	c.JSON(http.StatusAccepted, SuccessResponse{Success: true, Message: "connecting"})
}

func (s *Server) handleLogoff(c *gin.Context) {
	s.ctrl.Logoff()
	ok(c, nil)
}

// StatusRequest is the PUT /api/v1/status body
type StatusRequest struct {
	Status string `json:"status" binding:"required"`
}

func (s *Server) handleSetStatus(c *gin.Context) {
	var req StatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "Invalid request", err)
		return
	}
	status, err := protocol.ParseStatus(req.Status)
	if err != nil {
		fail(c, http.StatusBadRequest, "Invalid status", err)
		return
	}
	if err := s.ctrl.SetStatus(status); err != nil {
		fail(c, errorStatus(err), "Status change failed", err)
		return
	}
	ok(c, gin.H{"status": protocol.StatusName(status)})
}

// ===== ROSTER =====

// ContactResponse is one roster entry
type ContactResponse struct {
	AccountID    string `json:"accountId"`
	Alias        string `json:"alias,omitempty"`
	GSID         uint16 `json:"gsid"`
	OnServer     bool   `json:"onServer"`
	AwaitingAuth bool   `json:"awaitingAuth"`
	Ignored      bool   `json:"ignored"`
	Online       bool   `json:"online"`
	Status       string `json:"status"`
	Idle         bool   `json:"idle"`
}

func contactResponse(ct *roster.Contact) ContactResponse {
	status := "offline"
	if ct.Presence.Online {
		status = protocol.StatusName(ct.Presence.Status)
	}
	return ContactResponse{
		AccountID:    ct.AccountID,
		Alias:        ct.Alias,
		GSID:         ct.GSID,
		OnServer:     ct.OnServer(),
		AwaitingAuth: ct.AwaitingAuth,
		Ignored:      ct.InIgnoreList,
		Online:       ct.Presence.Online,
		Status:       status,
		Idle:         ct.Presence.Idle(),
	}
}

func (s *Server) handleContacts(c *gin.Context) {
	contacts, err := s.ctrl.Roster().Store().Contacts()
	if err != nil {
		fail(c, http.StatusInternalServerError, "Failed to list contacts", err)
		return
	}
	out := make([]ContactResponse, 0, len(contacts))
	for _, ct := range contacts {
		out = append(out, contactResponse(ct))
	}
	ok(c, out)
}

// AddContactRequest is the POST /api/v1/contacts body
type AddContactRequest struct {
	AccountID string `json:"accountId" binding:"required"`
	Group     string `json:"group"`
	Alias     string `json:"alias"`
}

func (s *Server) handleAddContact(c *gin.Context) {
	var req AddContactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "Invalid request", err)
		return
	}
	if err := s.ctrl.Roster().AddContact(req.AccountID, req.Group, req.Alias); err != nil {
		fail(c, errorStatus(err), "Failed to add contact", err)
		return
	}
	ct, err := s.ctrl.Roster().Store().Contact(req.AccountID)
	if err != nil {
		fail(c, errorStatus(err), "Failed to add contact", err)
		return
	}
	c.JSON(http.StatusCreated, SuccessResponse{Success: true, Data: contactResponse(ct)})
}

// UpdateContactRequest is the PATCH /api/v1/contacts/:id body
type UpdateContactRequest struct {
	Alias string `json:"alias" binding:"required"`
}

func (s *Server) handleUpdateContact(c *gin.Context) {
	var req UpdateContactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "Invalid request", err)
		return
	}
	if err := s.ctrl.Roster().UpdateContact(c.Param("id"), req.Alias); err != nil {
		fail(c, errorStatus(err), "Failed to update contact", err)
		return
	}
	ok(c, nil)
}

func (s *Server) handleRemoveContact(c *gin.Context) {
	if err := s.ctrl.Roster().RemoveContact(c.Param("id")); err != nil {
		fail(c, errorStatus(err), "Failed to remove contact", err)
		return
	}
	ok(c, nil)
}

func (s *Server) handleGroups(c *gin.Context) {
	groups, err := s.ctrl.Roster().Store().Groups()
	if err != nil {
		fail(c, http.StatusInternalServerError, "Failed to list groups", err)
		return
	}
	out := make([]GroupResponse, 0, len(groups))
	for _, g := range groups {
		out = append(out, groupResponse(g))
	}
	ok(c, out)
}

// GroupResponse is one roster group
type GroupResponse struct {
	GSID     uint16 `json:"gsid"`
	Name     string `json:"name"`
	OnServer bool   `json:"onServer"`
}

func groupResponse(g *roster.Group) GroupResponse {
	return GroupResponse{GSID: g.GSID, Name: g.Name, OnServer: g.Server}
}

// GroupRequest is the POST and PATCH /api/v1/groups body
type GroupRequest struct {
	Name string `json:"name" binding:"required"`
}

func (s *Server) handleAddGroup(c *gin.Context) {
	var req GroupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "Invalid request", err)
		return
	}
	g, err := s.ctrl.Roster().AddGroup(req.Name)
	if err != nil {
		fail(c, errorStatus(err), "Failed to add group", err)
		return
	}
	c.JSON(http.StatusCreated, SuccessResponse{Success: true, Data: groupResponse(g)})
}

func groupParam(c *gin.Context) (uint16, bool) {
	gsid, err := strconv.ParseUint(c.Param("gsid"), 10, 16)
	if err != nil || gsid == 0 {
		fail(c, http.StatusBadRequest, "Invalid group id", err)
		return 0, false
	}
	return uint16(gsid), true
}

func (s *Server) handleRenameGroup(c *gin.Context) {
	gsid, valid := groupParam(c)
	if !valid {
		return
	}
	var req GroupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "Invalid request", err)
		return
	}
	if err := s.ctrl.Roster().RenameGroup(gsid, req.Name); err != nil {
		fail(c, errorStatus(err), "Failed to rename group", err)
		return
	}
	ok(c, nil)
}

func (s *Server) handleRemoveGroup(c *gin.Context) {
	gsid, valid := groupParam(c)
	if !valid {
		return
	}
	if err := s.ctrl.Roster().RemoveGroup(gsid); err != nil {
		fail(c, errorStatus(err), "Failed to remove group", err)
		return
	}
	ok(c, nil)
}

// ClearResponse reports how many server list items a clear removed
type ClearResponse struct {
	Cleared int `json:"cleared"`
}

func (s *Server) handleClearServerList(c *gin.Context) {
	n, err := s.ctrl.Roster().ClearServerList()
	if err != nil {
		fail(c, errorStatus(err), "Failed to clear server list", err)
		return
	}
	ok(c, ClearResponse{Cleared: n})
}

// ===== MESSAGING AND LOOKUPS =====

// MessageRequest is the POST /api/v1/message body. A URL turns it into a
// URL message with Text as the description.
type MessageRequest struct {
	To   string `json:"to" binding:"required"`
	Text string `json:"text"`
	URL  string `json:"url"`
}

// EventResponse describes a tracked request
type EventResponse struct {
	Queued bool   `json:"queued"`
	ID     string `json:"id,omitempty"`
	Key    uint16 `json:"key,omitempty"`
	Name   string `json:"name,omitempty"`
	Result string `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

// respondEvent reports ev. With ?wait=true it blocks until the reply or
// the wait timeout.
func (s *Server) respondEvent(c *gin.Context, ev *event.Event) {
	if ev == nil {
		c.JSON(http.StatusAccepted, SuccessResponse{Success: true, Data: EventResponse{Queued: true}})
		return
	}
	resp := EventResponse{ID: ev.ID.String(), Key: ev.Key, Name: ev.Name}
	if c.Query("wait") != "true" {
		c.JSON(http.StatusAccepted, SuccessResponse{Success: true, Data: resp})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), s.wait)
	defer cancel()
	r, err := ev.Wait(ctx)
	resp.Result = r.String()
	if err != nil {
		resp.Error = err.Error()
	}
	code := http.StatusOK
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		code = http.StatusGatewayTimeout
	case r != event.Success && r != event.Acked:
		code = http.StatusBadGateway
	}
	c.JSON(code, SuccessResponse{Success: code == http.StatusOK, Data: resp})
}

func (s *Server) handleMessage(c *gin.Context) {
	var req MessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "Invalid request", err)
		return
	}
	if req.Text == "" && req.URL == "" {
		fail(c, http.StatusBadRequest, "Invalid request", errors.New("text or url is required"))
		return
	}

	var (
		ev  *event.Event
		err error
	)
	if req.URL != "" {
		ev, err = s.ctrl.SendURL(req.To, req.Text, req.URL)
	} else {
		ev, err = s.ctrl.SendMessage(req.To, req.Text)
	}
	if err != nil {
		fail(c, errorStatus(err), "Send failed", err)
		return
	}
	s.respondEvent(c, ev)
}

// SearchRequest is the POST /api/v1/search body. Results stream as
// search_result signals on /api/v1/events.
type SearchRequest struct {
	UIN uint32 `json:"uin" binding:"required"`
}

func (s *Server) handleSearch(c *gin.Context) {
	var req SearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "Invalid request", err)
		return
	}
	ev, err := s.ctrl.Search(req.UIN)
	if err != nil {
		fail(c, errorStatus(err), "Search failed", err)
		return
	}
	s.respondEvent(c, ev)
}

func (s *Server) handleInfo(c *gin.Context) {
	uin, err := strconv.ParseUint(c.Param("uin"), 10, 32)
	if err != nil {
		fail(c, http.StatusBadRequest, "Invalid account id", err)
		return
	}
	ev, err := s.ctrl.RequestInfo(uint32(uin))
	if err != nil {
		fail(c, errorStatus(err), "Info request failed", err)
		return
	}
	s.respondEvent(c, ev)
}

// HealthResponse is the /health body
type HealthResponse struct {
	Status string `json:"status"`
	State  string `json:"state"`
	Time   int64  `json:"time"`
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status: "healthy",
		State:  s.ctrl.State().String(),
		Time:   time.Now().Unix(),
	})
}
