// Package tracking moves asynchronous feedback into the growth engine.
//
// Two kinds of messages arrive on one SQS queue: SES event notifications
// (bounces and complaints for digest mail, optionally wrapped in an SNS
// envelope) and repogrowth events published by this package (snowball
// forwards and unsubscribe clicks). The consumer deletes a message once it
// is handled or known to be unprocessable; anything else is left for SQS
// to redeliver.
package tracking
