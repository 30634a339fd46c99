package settlement

const (
	operationAppendEntries     = "append_entries"
	operationDeposit           = "deposit"
	operationWithdraw          = "withdraw"
	operationCheckout          = "checkout"
	operationEnsureEntries     = "ensure_entries"
	operationInitializePayment = "initialize_payment"
	operationVerifyPayment     = "verify_payment"
	operationWebhook           = "webhook"
	operationRegisterRecipient = "register_destination"
	operationRequestPayout     = "request_payout"
	operationStatusOK          = "ok"
	operationStatusError       = "error"
	errorOperationService      = "service"
	errorSubjectBalance        = "balance"
	errorSubjectPayout         = "payout"
	errorSubjectEntries        = "entries"
	errorSubjectGateway        = "gateway"
	errorCodeSum               = "sum"
	errorCodePlan              = "plan"
	errorCodeTransfer          = "transfer"
	errorCodeVerify            = "verify"
	errorCodeRecipient         = "recipient"
	errorCodeInitialize        = "initialize"
	paymentReferencePrefix     = "FIX-"
	paymentReferenceLength     = 12
	payoutReferencePrefix      = "payout_"
	payoutReferenceLength      = 18
	depositReferencePrefix     = "dep_"
	depositReferenceLength     = 20
	withdrawalReferencePrefix  = "wd_"
	withdrawalReferenceLength  = 20
	webhookScopePrefix         = "webhook:"
	defaultListLimit           = 50
	maxListLimit               = 200
	defaultPayoutReason        = "Artisan payout"
)

// Idempotency scopes for client-supplied keys.
const (
	ScopeWalletDeposit    Scope = "wallet.deposit"
	ScopeWalletWithdraw   Scope = "wallet.withdraw"
	ScopePaymentsCheckout Scope = "payments.checkout"
	ScopePayoutsRequest   Scope = "payouts.request"
)

// Leg names identify one entry inside the set written for a settlement reference.
const (
	LegDeposit            Leg = "deposit"
	LegWithdrawal         Leg = "withdrawal"
	LegWithdrawalFee      Leg = "withdrawal_fee"
	LegCustomerCharge     Leg = "customer_charge"
	LegCustomerFee        Leg = "customer_fee"
	LegCounterpartyCredit Leg = "counterparty_credit"
	LegPlatformFee        Leg = "platform_fee"
	LegPayoutDebit        Leg = "payout_debit"
	LegAdjustment         Leg = "adjustment"
)

// Webhook event names understood by the reconciler.
const (
	EventChargeSuccess    = "charge.success"
	EventChargeFailed     = "charge.failed"
	EventTransferSuccess  = "transfer.success"
	EventTransferFailed   = "transfer.failed"
	EventTransferReversed = "transfer.reversed"
)
