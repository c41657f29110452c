// Package payment verifies gateway callbacks and wraps the payment
// gateway's REST API.
package payment

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"ordersync/internal/apperr"
	"ordersync/internal/model"
	"ordersync/internal/webhooks"
)

// Policy decides what happens to an order whose payment signature fails.
type Policy string

const (
	PolicyBlock Policy = "block"
	PolicyWarn  Policy = "warn"
)

// ParsePolicy accepts "block" or "warn" in any case.
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(strings.ToLower(strings.TrimSpace(s))); p {
	case PolicyBlock, PolicyWarn:
		return p, nil
	case "":
		return PolicyBlock, nil
	}
	return "", apperr.Invalid("unknown signature policy %q", s)
}

// Verifier checks checkout callbacks offline against the key secret.
type Verifier struct {
	secret string
	policy Policy
	log    *zap.Logger
}

func NewVerifier(secret string, policy Policy, log *zap.Logger) *Verifier {
	if log == nil {
		log = zap.NewNop()
	}
	if policy == "" {
		policy = PolicyBlock
	}
	log.Info("payment signature policy", zap.String("policy", string(policy)))
	if policy == PolicyWarn {
		log.Warn("signature mismatches will be saved anyway; use only outside production")
	}
	return &Verifier{secret: secret, policy: policy, log: log}
}

func (v *Verifier) Policy() Policy { return v.policy }

func payload(gatewayOrderID, paymentID string) []byte {
	return []byte(gatewayOrderID + "|" + paymentID)
}

// Sign returns the hex signature the gateway would send.
func (v *Verifier) Sign(gatewayOrderID, paymentID string) string {
	return webhooks.SignHMAC(v.secret, payload(gatewayOrderID, paymentID))
}

// Verify reports whether signature is HMAC-SHA256(secret, orderID|paymentID).
func (v *Verifier) Verify(gatewayOrderID, paymentID, signature string) bool {
	if gatewayOrderID == "" || paymentID == "" || signature == "" {
		return false
	}
	return webhooks.VerifyHMAC(v.secret, payload(gatewayOrderID, paymentID), signature)
}

// Outcome is the result of checking an order's payment proof.
type Outcome string

const (
	Verified        Outcome = "verified"
	MismatchAllowed Outcome = "mismatch_allowed" // bad signature under the warn policy
	NoProof         Outcome = "no_proof"
	CashOnDelivery  Outcome = "cod"
)

// Confirms reports whether the order may move to confirmed.
func (o Outcome) Confirms() bool { return o != NoProof }

// Check applies the policy to an order's payment details. Under the block
// policy a bad signature is an error. Verification uses the gateway order
// id, or the business order id when the callback carried none.
func (v *Verifier) Check(orderID string, p model.PaymentInfo) (Outcome, error) {
	if p.IsCOD() {
		return CashOnDelivery, nil
	}
	if p.PaymentID == "" && p.Signature == "" {
		return NoProof, nil
	}
	gatewayOrderID := p.GatewayOrderID
	if gatewayOrderID == "" {
		gatewayOrderID = orderID
	}
	if v.Verify(gatewayOrderID, p.PaymentID, p.Signature) {
		return Verified, nil
	}
	if v.policy == PolicyWarn {
		v.log.Warn("payment signature mismatch, saving order under warn policy",
			zap.String("order_id", orderID),
			zap.String("payment_id", p.PaymentID))
		return MismatchAllowed, nil
	}
	v.log.Warn("payment signature mismatch, order blocked",
		zap.String("order_id", orderID),
		zap.String("payment_id", p.PaymentID))
	return "", fmt.Errorf("order %s: %w", orderID, apperr.ErrSignatureMismatch)
}
