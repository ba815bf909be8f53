package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"time"

	"AgentPay-Chain/sdk/go/agentpay"
)

func main() {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/payments", func(w http.ResponseWriter, r *http.Request) {
		var submission agentpay.PaymentSubmission
		_ = json.NewDecoder(r.Body).Decode(&submission)
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(agentpay.Payment{
			ID:        "pay-demo",
			FromAgent: submission.FromAgent,
			ToAgent:   submission.ToAgent,
			Amount:    submission.Amount,
			Target:    submission.Target,
			Status:    "escrowed",
			CreatedAt: time.Now().Unix(),
		})
	})
	mux.HandleFunc("POST /api/v1/payments/pay-demo/release", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(agentpay.Payment{
			ID:         "pay-demo",
			Amount:     995_000,
			Status:     "released",
			ResolvedAt: time.Now().Unix(),
		})
	})
	mux.HandleFunc("GET /api/v1/agents/2/earnings", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(agentpay.Earnings{AgentID: 2, TotalEarned: 995_000})
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := agentpay.NewClient(srv.URL, srv.Client())
	client.SetCaller("0xa11ce")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	payment, err := client.CreatePayment(ctx, agentpay.PaymentSubmission{
		FromAgent: 1,
		ToAgent:   2,
		Amount:    1_000_000,
		Value:     1_000_000,
		Target:    "native",
		TaskRef:   "task-demo",
	})
	if err != nil {
		panic(err)
	}
	fmt.Printf("escrowed payment %s (status=%s)\n", payment.ID, payment.Status)

	released, err := client.ReleasePayment(ctx, payment.ID)
	if err != nil {
		panic(err)
	}
	fmt.Printf("released payment %s net=%d\n", released.ID, released.Amount)

	earnings, err := client.AgentEarnings(ctx, 2)
	if err != nil {
		panic(err)
	}
	fmt.Printf("agent %d lifetime earnings=%d\n", earnings.AgentID, earnings.TotalEarned)
}
