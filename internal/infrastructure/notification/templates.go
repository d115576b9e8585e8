package notification

import "fmt"

// ForcedPowerOffEmail is sent once when a machine is shut down because the
// account ran out of credits
func ForcedPowerOffEmail(to, vmName string) Email {
	return Email{
		To:      to,
		Subject: "Your virtual machine was powered off",
		HTML: fmt.Sprintf(
			"<p>Your virtual machine <strong>%s</strong> was powered off because "+
				"your credit balance ran out.</p>"+
				"<p>Top up your credits to launch a new machine.</p>",
			vmName,
		),
	}
}

// PasswordRecoveryEmail carries a short-lived recovery link
func PasswordRecoveryEmail(to, recoveryURL string) Email {
	return Email{
		To:      to,
		Subject: "Reset your password",
		HTML: fmt.Sprintf(
			"<p>We received a request to reset your password.</p>"+
				"<p><a href=\"%s\">Reset password</a></p>"+
				"<p>The link expires shortly. If you did not request this, you can "+
				"ignore this email.</p>",
			recoveryURL,
		),
	}
}
