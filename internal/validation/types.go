package validation

// IssueRequest is the payload for POST /api/qr
type IssueRequest struct {
	ModelName    string `json:"model_name" validate:"required,max=64"`
	SerialNumber string `json:"serial_number" validate:"required,serial"` // digits only, no leading zero
}

// RedeemRequest is the payload for POST /api/activate
type RedeemRequest struct {
	Token  string `json:"token" validate:"required,max=512"`
	UserID string `json:"user_id,omitempty" validate:"max=128"` // empty means anonymous
}

// TransferRequest is the payload for POST /api/toys/:itemId/transfer
type TransferRequest struct {
	From string `json:"from" validate:"required,max=128"`
	To   string `json:"to" validate:"required,max=128,nefield=From"`
}
