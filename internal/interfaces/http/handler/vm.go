package handler

import (
	"time"

	appvm "github.com/biocloudlabs/backend/internal/application/vm"
	"github.com/biocloudlabs/backend/internal/domain/vm"
	"github.com/biocloudlabs/backend/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// VMResponse represents a virtual machine in API responses
type VMResponse struct {
	ID           string     `json:"id"`
	DNSName      string     `json:"dns_name"`
	IP           string     `json:"ip"`
	Running      bool       `json:"running"`
	BillingState string     `json:"billing_state"`
	CreatedAt    time.Time  `json:"created_at"`
	PoweredOffAt *time.Time `json:"powered_off_at,omitempty"`
}

// PowerOffResponse represents the outcome of stopping a machine
type PowerOffResponse struct {
	Machine   VMResponse `json:"machine"`
	Charged   int64      `json:"charged"`
	Reconcile bool       `json:"reconcile,omitempty"`
}

// MachineUsageResponse annotates a machine with its accrued runtime cost
type MachineUsageResponse struct {
	Machine     VMResponse `json:"machine"`
	AccruedCost int64      `json:"accrued_cost"`
	Running     bool       `json:"running"`
}

// EnforcementResponse represents the outcome of a balance check
type EnforcementResponse struct {
	DNSName       string `json:"dns_name"`
	Running       bool   `json:"running"`
	ProjectedCost int64  `json:"projected_cost"`
	Balance       int64  `json:"balance"`
	Enforced      bool   `json:"enforced"`
	Charged       int64  `json:"charged"`
}

// VMNameRequest represents a DNS name path parameter
type VMNameRequest struct {
	Name string `uri:"name" binding:"required"`
}

// VMHandler handles virtual machine lifecycle endpoints
type VMHandler struct {
	BaseHandler
	lifecycleService *appvm.LifecycleService
}

// NewVMHandler creates a new VM handler
func NewVMHandler(lifecycleService *appvm.LifecycleService) *VMHandler {
	return &VMHandler{
		lifecycleService: lifecycleService,
	}
}

// Setup godoc
// @Summary      Provision a virtual machine
// @Description  Rejected with 401 INSUFFICIENT_BALANCE when the account has no credits
// @Tags         vms
// @Produce      json
// @Security     BearerAuth
// @Success      201 {object} dto.Response{data=VMResponse}
// @Failure      401 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      500 {object} dto.Response{error=dto.ErrorInfo}
// @Router       /vms/setup [post]
func (h *VMHandler) Setup(c *gin.Context) {
	userID, err := getUserID(c)
	if err != nil {
		h.Unauthorized(c, "Authentication required")
		return
	}

	machine, err := h.lifecycleService.Setup(c.Request.Context(), userID)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Created(c, toVMResponse(machine))
}

// PowerOff godoc
// @Summary      Power off a virtual machine
// @Description  Stops the machine and debits the final runtime charge
// @Tags         vms
// @Produce      json
// @Security     BearerAuth
// @Param        id path string true "VM ID"
// @Success      200 {object} dto.Response{data=PowerOffResponse}
// @Failure      404 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      409 {object} dto.Response{error=dto.ErrorInfo}
// @Router       /vms/{id} [delete]
func (h *VMHandler) PowerOff(c *gin.Context) {
	userID, err := getUserID(c)
	if err != nil {
		h.Unauthorized(c, "Authentication required")
		return
	}

	var req dto.IDRequest
	if err := c.ShouldBindUri(&req); err != nil {
		h.BadRequest(c, "Invalid VM ID")
		return
	}
	vmID, err := uuid.Parse(req.ID)
	if err != nil {
		h.BadRequest(c, "Invalid VM ID")
		return
	}

	result, err := h.lifecycleService.PowerOff(c.Request.Context(), userID, vmID)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Success(c, PowerOffResponse{
		Machine:   toVMResponse(result.Machine),
		Charged:   result.Charged,
		Reconcile: result.Reconcile,
	})
}

// History godoc
// @Summary      List own virtual machines
// @Description  Returns all machines with their accrued runtime cost.
// @Description  An account with no machines gets an empty list, not 404.
// @Tags         vms
// @Produce      json
// @Security     BearerAuth
// @Success      200 {object} dto.Response{data=[]MachineUsageResponse}
// @Failure      401 {object} dto.Response{error=dto.ErrorInfo}
// @Router       /vms/history [get]
func (h *VMHandler) History(c *gin.Context) {
	userID, err := getUserID(c)
	if err != nil {
		h.Unauthorized(c, "Authentication required")
		return
	}

	usages, err := h.lifecycleService.History(c.Request.Context(), userID)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	responses := make([]MachineUsageResponse, len(usages))
	for i, usage := range usages {
		responses[i] = MachineUsageResponse{
			Machine:     toVMResponse(usage.Machine),
			AccruedCost: usage.AccruedCost,
			Running:     usage.Running,
		}
	}

	h.Success(c, responses)
}

// CheckAndEnforce godoc
// @Summary      Check a running machine against its balance
// @Description  Called by the monitoring sweep. Force-stops the machine when
// @Description  the projected cost through the grace window exceeds the balance.
// @Tags         vms
// @Produce      json
// @Param        name path string true "VM DNS name"
// @Success      200 {object} dto.Response{data=EnforcementResponse}
// @Failure      404 {object} dto.Response{error=dto.ErrorInfo}
// @Router       /vms/check/{name} [get]
func (h *VMHandler) CheckAndEnforce(c *gin.Context) {
	var req VMNameRequest
	if err := c.ShouldBindUri(&req); err != nil {
		h.BadRequest(c, "Invalid VM name")
		return
	}

	result, err := h.lifecycleService.CheckAndEnforce(c.Request.Context(), req.Name)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	resp := EnforcementResponse{
		ProjectedCost: result.ProjectedCost,
		Balance:       result.Balance,
		Enforced:      result.Enforced,
		Charged:       result.Charged,
	}
	if result.Machine != nil {
		resp.DNSName = result.Machine.DNSName
		resp.Running = result.Machine.IsRunning()
	}

	h.Success(c, resp)
}

func toVMResponse(machine *vm.VirtualMachine) VMResponse {
	return VMResponse{
		ID:           machine.ID.String(),
		DNSName:      machine.DNSName,
		IP:           machine.IP,
		Running:      machine.IsRunning(),
		BillingState: string(machine.BillingState),
		CreatedAt:    machine.CreatedAt,
		PoweredOffAt: machine.PoweredOffAt,
	}
}
