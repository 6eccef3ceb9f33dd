// Package api defines the StampService RPC surface: message types, the JSON
// codec they travel in, and Connect handler and client constructors.
package api

import (
	"context"
	"net/http"
	"strings"

	"connectrpc.com/connect"
)

// StampServiceName is the fully-qualified name of the StampService service
const StampServiceName = "stampcard.v1.StampService"

// Fully-qualified procedure names, usable as HTTP routes
const (
	StampServiceCreateBusinessProcedure   = "/stampcard.v1.StampService/CreateBusiness"
	StampServiceScanProcedure             = "/stampcard.v1.StampService/Scan"
	StampServiceRedeemProcedure           = "/stampcard.v1.StampService/Redeem"
	StampServiceJoinProcedure             = "/stampcard.v1.StampService/Join"
	StampServiceGetMembershipProcedure    = "/stampcard.v1.StampService/GetMembership"
	StampServiceGetBusinessStatsProcedure = "/stampcard.v1.StampService/GetBusinessStats"
)

// StampServiceHandler is implemented by the server
type StampServiceHandler interface {
	CreateBusiness(context.Context, *connect.Request[CreateBusinessRequest]) (*connect.Response[CreateBusinessResponse], error)
	Scan(context.Context, *connect.Request[ScanRequest]) (*connect.Response[ScanResponse], error)
	Redeem(context.Context, *connect.Request[RedeemRequest]) (*connect.Response[RedeemResponse], error)
	Join(context.Context, *connect.Request[JoinRequest]) (*connect.Response[JoinResponse], error)
	GetMembership(context.Context, *connect.Request[GetMembershipRequest]) (*connect.Response[GetMembershipResponse], error)
	GetBusinessStats(context.Context, *connect.Request[GetBusinessStatsRequest]) (*connect.Response[GetBusinessStatsResponse], error)
}

// NewStampServiceHandler builds an HTTP handler from the service
// implementation. It returns the path on which to mount the handler and the
// handler itself.
func NewStampServiceHandler(svc StampServiceHandler, opts ...connect.HandlerOption) (string, http.Handler) {
	opts = append([]connect.HandlerOption{connect.WithCodec(Codec{})}, opts...)
	handlers := map[string]http.Handler{
		StampServiceCreateBusinessProcedure:   connect.NewUnaryHandler(StampServiceCreateBusinessProcedure, svc.CreateBusiness, opts...),
		StampServiceScanProcedure:             connect.NewUnaryHandler(StampServiceScanProcedure, svc.Scan, opts...),
		StampServiceRedeemProcedure:           connect.NewUnaryHandler(StampServiceRedeemProcedure, svc.Redeem, opts...),
		StampServiceJoinProcedure:             connect.NewUnaryHandler(StampServiceJoinProcedure, svc.Join, opts...),
		StampServiceGetMembershipProcedure:    connect.NewUnaryHandler(StampServiceGetMembershipProcedure, svc.GetMembership, opts...),
		StampServiceGetBusinessStatsProcedure: connect.NewUnaryHandler(StampServiceGetBusinessStatsProcedure, svc.GetBusinessStats, opts...),
	}
	return "/" + StampServiceName + "/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h, ok := handlers[r.URL.Path]; ok {
			h.ServeHTTP(w, r)
			return
		}
		http.NotFound(w, r)
	})
}

// StampServiceClient is a client for the StampService
type StampServiceClient struct {
	createBusiness   *connect.Client[CreateBusinessRequest, CreateBusinessResponse]
	scan             *connect.Client[ScanRequest, ScanResponse]
	redeem           *connect.Client[RedeemRequest, RedeemResponse]
	join             *connect.Client[JoinRequest, JoinResponse]
	getMembership    *connect.Client[GetMembershipRequest, GetMembershipResponse]
	getBusinessStats *connect.Client[GetBusinessStatsRequest, GetBusinessStatsResponse]
}

// NewStampServiceClient constructs a client for the service at baseURL
// (for example, http://localhost:8080)
func NewStampServiceClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) *StampServiceClient {
	baseURL = strings.TrimRight(baseURL, "/")
	opts = append([]connect.ClientOption{connect.WithCodec(Codec{})}, opts...)
	return &StampServiceClient{
		createBusiness:   connect.NewClient[CreateBusinessRequest, CreateBusinessResponse](httpClient, baseURL+StampServiceCreateBusinessProcedure, opts...),
		scan:             connect.NewClient[ScanRequest, ScanResponse](httpClient, baseURL+StampServiceScanProcedure, opts...),
		redeem:           connect.NewClient[RedeemRequest, RedeemResponse](httpClient, baseURL+StampServiceRedeemProcedure, opts...),
		join:             connect.NewClient[JoinRequest, JoinResponse](httpClient, baseURL+StampServiceJoinProcedure, opts...),
		getMembership:    connect.NewClient[GetMembershipRequest, GetMembershipResponse](httpClient, baseURL+StampServiceGetMembershipProcedure, opts...),
		getBusinessStats: connect.NewClient[GetBusinessStatsRequest, GetBusinessStatsResponse](httpClient, baseURL+StampServiceGetBusinessStatsProcedure, opts...),
	}
}

// CreateBusiness calls stampcard.v1.StampService.CreateBusiness
func (c *StampServiceClient) CreateBusiness(ctx context.Context, req *connect.Request[CreateBusinessRequest]) (*connect.Response[CreateBusinessResponse], error) {
	return c.createBusiness.CallUnary(ctx, req)
}

// Scan calls stampcard.v1.StampService.Scan
func (c *StampServiceClient) Scan(ctx context.Context, req *connect.Request[ScanRequest]) (*connect.Response[ScanResponse], error) {
	return c.scan.CallUnary(ctx, req)
}

// Redeem calls stampcard.v1.StampService.Redeem
func (c *StampServiceClient) Redeem(ctx context.Context, req *connect.Request[RedeemRequest]) (*connect.Response[RedeemResponse], error) {
	return c.redeem.CallUnary(ctx, req)
}

// Join calls stampcard.v1.StampService.Join
func (c *StampServiceClient) Join(ctx context.Context, req *connect.Request[JoinRequest]) (*connect.Response[JoinResponse], error) {
	return c.join.CallUnary(ctx, req)
}

// GetMembership calls stampcard.v1.StampService.GetMembership
func (c *StampServiceClient) GetMembership(ctx context.Context, req *connect.Request[GetMembershipRequest]) (*connect.Response[GetMembershipResponse], error) {
	return c.getMembership.CallUnary(ctx, req)
}

// GetBusinessStats calls stampcard.v1.StampService.GetBusinessStats
func (c *StampServiceClient) GetBusinessStats(ctx context.Context, req *connect.Request[GetBusinessStatsRequest]) (*connect.Response[GetBusinessStatsResponse], error) {
	return c.getBusinessStats.CallUnary(ctx, req)
}
