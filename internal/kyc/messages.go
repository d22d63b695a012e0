package kyc

import "github.com/dropDatabas3/veriface/internal/store/core"

// outcomeMessage arma el contenido del email de resultado. Subject vacío
// significa que ese estado no genera notificación.
func outcomeMessage(status core.AttemptStatus) (subject, html, text string) {
	switch status {
	case core.StatusCompleted:
		return "Your identity verification was approved",
			"<p>Good news! Your identity verification has been <strong>approved</strong>. No further action is needed.</p>",
			"Good news! Your identity verification has been approved. No further action is needed."
	case core.StatusFailed:
		return "Your identity verification was not approved",
			"<p>Unfortunately your identity verification was <strong>not approved</strong>. You can try again after the cool-down period with clearer photos.</p>",
			"Unfortunately your identity verification was not approved. You can try again after the cool-down period with clearer photos."
	case core.StatusManualReview:
		return "Your identity verification is under review",
			"<p>Your identity verification needs a <strong>manual review</strong>. We'll get back to you shortly; no action is needed on your side.</p>",
			"Your identity verification needs a manual review. We'll get back to you shortly; no action is needed on your side."
	}
	return "", "", ""
}
