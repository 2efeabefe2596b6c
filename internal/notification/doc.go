// Package notification holds the engine's data model: the Notification itself,
// producer requests, rule decisions, subscriber deliveries and query filters,
// together with the submission-time error taxonomy.
package notification
