// Command smoke walks a running API through onboarding and one review cycle.
// The target must have organization sign-up enabled and must echo temporary
// secrets (no SMTP host, or LOGBOOK_EXPOSE_TEMP_SECRETS=true).
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

type client struct {
	base string
	http *http.Client
}

func (c client) call(method, path, token string, body any, want int) map[string]any {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			log.Fatalf("encode %s %s: %v", method, path, err)
		}
	}
	req, err := http.NewRequest(method, c.base+path, &buf)
	if err != nil {
		log.Fatalf("build %s %s: %v", method, path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		log.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != want {
		log.Fatalf("%s %s: status %d, want %d: %s", method, path, resp.StatusCode, want, raw)
	}
	out := map[string]any{}
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, &out); err != nil {
			log.Fatalf("%s %s: decode: %v", method, path, err)
		}
	}
	return out
}

func (c client) login(slug, email, password string) string {
	out := c.call(http.MethodPost, "/auth/"+slug+"/login", "", map[string]string{"email": email, "password": password}, http.StatusOK)
	return out["token"].(string)
}

func temporarySecret(issued map[string]any) string {
	secret, _ := issued["temporaryPassword"].(string)
	if secret == "" {
		log.Fatal("response carries no temporary password; enable LOGBOOK_EXPOSE_TEMP_SECRETS on the target")
	}
	return secret
}

func accountID(issued map[string]any) int64 {
	return int64(issued["account"].(map[string]any)["id"].(float64))
}

func checkGRPC(addr string) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		log.Fatalf("dial grpc at %s: %v", addr, err)
	}
	defer conn.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{})
	if err != nil {
		log.Fatalf("grpc health: %v", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		log.Fatalf("grpc health: %v", resp.GetStatus())
	}
}

func main() {
	base := strings.TrimRight(os.Getenv("LOGBOOK_API_URL"), "/")
	if base == "" {
		base = "http://localhost:8080"
	}
	c := client{base: base, http: &http.Client{Timeout: 10 * time.Second}}
	tag := uuid.NewString()[:8]
	email := func(tier string) string { return fmt.Sprintf("%s-%s@smoke.test", tier, tag) }

	c.call(http.MethodGet, "/readyz", "", nil, http.StatusOK)
	if addr := os.Getenv("LOGBOOK_GRPC_ADDR"); addr != "" {
		checkGRPC(addr)
	}

	org := c.call(http.MethodPost, "/auth/org/register", "", map[string]string{
		"name": "Smoke " + tag, "email": email("org"), "password": "smoke-password",
	}, http.StatusCreated)["token"].(string)

	dept := c.call(http.MethodPost, "/organization/departments", org, map[string]string{"name": "Medicine", "email": email("dept")}, http.StatusCreated)
	deptToken := c.login("department", email("dept"), temporarySecret(dept))

	staff := c.call(http.MethodPost, fmt.Sprintf("/departments/%d/staff", accountID(dept)), deptToken,
		map[string]string{"name": "Dr Smoke", "email": email("staff")}, http.StatusCreated)
	staffID := accountID(staff)
	staffToken := c.login("staff", email("staff"), temporarySecret(staff))

	student := c.call(http.MethodPost, fmt.Sprintf("/staff/%d/students", staffID), staffToken,
		map[string]string{"name": "Student Smoke", "email": email("student")}, http.StatusCreated)
	studentToken := c.login("student", email("student"), temporarySecret(student))

	entry := c.call(http.MethodPost, "/student/logs", studentToken, map[string]any{
		"title": "Smoke activity", "category": "Clinic", "activityDate": time.Now().UTC().Format(time.DateOnly), "durationMinutes": 30,
	}, http.StatusCreated)
	logID := int64(entry["id"].(float64))

	if n := c.call(http.MethodGet, "/notifications/unread-count", staffToken, nil, http.StatusOK)["count"].(float64); n < 1 {
		log.Fatalf("staff was not notified of the submission")
	}

	reviewed := c.call(http.MethodPut, fmt.Sprintf("/staff/%d/student-logs/%d/review", staffID, logID), staffToken,
		map[string]string{"action": "approve", "remark": "smoke ok"}, http.StatusOK)
	if reviewed["status"] != "Approved" {
		log.Fatalf("unexpected status after review: %v", reviewed["status"])
	}
	c.call(http.MethodPut, fmt.Sprintf("/student/logs/%d", logID), studentToken, map[string]string{"title": "late edit"}, http.StatusConflict)

	// another tenant sees nothing of this one
	other := c.call(http.MethodPost, "/auth/org/register", "", map[string]string{
		"name": "Other " + tag, "email": email("org2"), "password": "smoke-password",
	}, http.StatusCreated)["token"].(string)
	c.call(http.MethodGet, fmt.Sprintf("/organization/departments/%d", accountID(dept)), other, nil, http.StatusNotFound)

	fmt.Printf("logbook smoke test passed: org=%s log=%d\n", tag, logID)
}
