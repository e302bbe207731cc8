// Package client provides the `flo` client commands.
//
// Table, namespace, log and cluster commands call a node's HTTP API;
// subscribe and cluster health use its gRPC endpoint.
//
// # Address configuration
//
// The HTTP base URL comes from the embedding binary through a BaseURLFunc
// (the standalone binary reads FLO_HTTP, default http://127.0.0.1:9001).
// The gRPC address is read from FLO_GRPC (default 127.0.0.1:9000).
//
// Usage
//
//	flo namespace create --name shop
//	flo table create -n shop -t orders
//	flo table put -n shop -t orders --key o1 --value '{"total":10}'
//	flo table rows -n shop -t orders --filter 'json.total > 5.0' --limit 10
//	flo table info -n shop -t orders
//	flo table drop -n shop -t orders --confirm
//
//	flo log status
//	flo log entries --reverse --limit 5
//	flo log trim
//
//	flo cluster layout
//	flo cluster report
//	flo cluster health
//
//	# Follow tables from the start of the log; stop after 10 records
//	flo subscribe --table shop/orders --from 0 --limit 10
//	flo subscribe -n shop --table orders --filter "text.contains('paid')"
package client
