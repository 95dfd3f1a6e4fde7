package enums

// NotificationType identifies the payload published to the notification topic.
type NotificationType string

const (
	NotificationTypeContractSubmitted  NotificationType = "contract_submitted"
	NotificationTypeContractApproved   NotificationType = "contract_approved"
	NotificationTypeContractRejected   NotificationType = "contract_rejected"
	NotificationTypeContractTerminated NotificationType = "contract_terminated"
	NotificationTypeContractExpiring   NotificationType = "contract_expiring"
	NotificationTypeContractExpired    NotificationType = "contract_expired"
	NotificationTypeContractRenewed    NotificationType = "contract_renewed"
	NotificationTypeRenewalRejected    NotificationType = "renewal_rejected"
	NotificationTypeCreditVerified     NotificationType = "credit_verified"
	NotificationTypeTransferApproved   NotificationType = "transfer_approved"
	NotificationTypeTransferRejected   NotificationType = "transfer_rejected"
	NotificationTypeHealthAlert        NotificationType = "health_alert"
)

var validNotificationTypes = []NotificationType{
	NotificationTypeContractSubmitted,
	NotificationTypeContractApproved,
	NotificationTypeContractRejected,
	NotificationTypeContractTerminated,
	NotificationTypeContractExpiring,
	NotificationTypeContractExpired,
	NotificationTypeContractRenewed,
	NotificationTypeRenewalRejected,
	NotificationTypeCreditVerified,
	NotificationTypeTransferApproved,
	NotificationTypeTransferRejected,
	NotificationTypeHealthAlert,
}

// IsValid checks whether the given type matches the canonical enum.
func (n NotificationType) IsValid() bool {
	for _, candidate := range validNotificationTypes {
		if candidate == n {
			return true
		}
	}
	return false
}

