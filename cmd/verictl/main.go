package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/dropDatabas3/veriface/internal/security/apikey"
)

type client struct {
	BaseURL   string
	APIKey    string
	OutFormat string // "json" | "text"
	HTTP      *http.Client
}

func (c *client) do(method, path string, body []byte) (int, []byte, error) {
	url := strings.TrimRight(c.BaseURL, "/") + path
	req, err := http.NewRequest(method, url, bytes.NewReader(body))
	if err != nil {
		return 0, nil, err
	}
	if c.APIKey != "" {
		req.Header.Set("X-API-Key", c.APIKey)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, b, nil
}

func (c *client) print(status int, body []byte) {
	if c.OutFormat == "json" {
		var v any
		if json.Unmarshal(body, &v) == nil {
			p, _ := json.MarshalIndent(v, "", "  ")
			fmt.Println(string(p))
			return
		}
	}
	if len(body) > 0 {
		fmt.Println(string(body))
	} else {
		fmt.Printf("status=%d\n", status)
	}
}

func main() {
	var (
		baseURL = envOr("VERIFACE_URL", "http://localhost:8080")
		apiKey  = envOr("VERIFACE_API_KEY", "")
		out     = envOr("VERIFACE_OUT", "text")
		timeout = 30 * time.Second
	)

	root := &cobra.Command{
		Use:   "verictl",
		Short: "CLI operativa del servicio de verificación",
	}
	root.PersistentFlags().StringVar(&baseURL, "url", baseURL, "URL base del servicio (env VERIFACE_URL)")
	root.PersistentFlags().StringVar(&apiKey, "api-key", apiKey, "API key (env VERIFACE_API_KEY)")
	root.PersistentFlags().StringVar(&out, "out", out, "Formato de salida: json|text")

	cl := &client{HTTP: &http.Client{Timeout: timeout}}
	root.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		cl.BaseURL, cl.APIKey, cl.OutFormat = baseURL, apiKey, out
	}

	// ping
	pingCmd := &cobra.Command{
		Use:   "ping",
		Short: "Chequear salud del servicio (/readyz)",
		RunE: func(cmd *cobra.Command, args []string) error {
			status, body, err := cl.do("GET", "/readyz", nil)
			if err != nil {
				return err
			}
			if status/100 != 2 {
				return fmt.Errorf("ping falló: status=%d body=%s", status, string(body))
			}
			cl.print(status, body)
			return nil
		},
	}

	// users create
	var userEmail, userID string
	usersCreateCmd := &cobra.Command{
		Use:   "create",
		Short: "Crear un usuario",
		RunE: func(cmd *cobra.Command, args []string) error {
			payload := map[string]any{"email": userEmail}
			if userID != "" {
				payload["id"] = userID
			}
			b, _ := json.Marshal(payload)
			status, body, err := cl.do("POST", "/v1/users", b)
			if err != nil {
				return err
			}
			if status/100 != 2 {
				return fmt.Errorf("create falló: status=%d body=%s", status, string(body))
			}
			cl.print(status, body)
			return nil
		},
	}
	usersCreateCmd.Flags().StringVar(&userEmail, "email", "", "Email del usuario")
	usersCreateCmd.Flags().StringVar(&userID, "id", "", "ID del usuario (opcional, default uuid)")

	usersCmd := &cobra.Command{Use: "users", Short: "Operaciones sobre usuarios"}
	usersCmd.AddCommand(usersCreateCmd)

	// attempts get / retry
	var attemptID string
	attemptsGetCmd := &cobra.Command{
		Use:   "get",
		Short: "Ver el estado de un intento",
		RunE: func(cmd *cobra.Command, args []string) error {
			if attemptID == "" {
				return fmt.Errorf("--id es requerido")
			}
			status, body, err := cl.do("GET", "/v1/kyc/attempts/"+attemptID, nil)
			if err != nil {
				return err
			}
			cl.print(status, body)
			return nil
		},
	}
	attemptsGetCmd.Flags().StringVar(&attemptID, "id", "", "ID del intento")

	var retryID string
	attemptsRetryCmd := &cobra.Command{
		Use:   "retry",
		Short: "Crear un intento nuevo a partir de uno fallido",
		RunE: func(cmd *cobra.Command, args []string) error {
			if retryID == "" {
				return fmt.Errorf("--id es requerido")
			}
			status, body, err := cl.do("POST", "/v1/kyc/attempts/"+retryID+"/retry", nil)
			if err != nil {
				return err
			}
			cl.print(status, body)
			return nil
		},
	}
	attemptsRetryCmd.Flags().StringVar(&retryID, "id", "", "ID del intento fallido")

	attemptsCmd := &cobra.Command{Use: "attempts", Short: "Operaciones sobre intentos"}
	attemptsCmd.AddCommand(attemptsGetCmd)
	attemptsCmd.AddCommand(attemptsRetryCmd)

	// stats
	var statsSince string
	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Agregado de intentos por estado",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/v1/kyc/stats"
			if statsSince != "" {
				path += "?since=" + statsSince
			}
			status, body, err := cl.do("GET", path, nil)
			if err != nil {
				return err
			}
			cl.print(status, body)
			return nil
		},
	}
	statsCmd.Flags().StringVar(&statsSince, "since", "", "Fecha YYYY-MM-DD (default últimas 24h)")

	// apikey generate: local, no toca el servicio. El plaintext se muestra
	// una sola vez; el hash va a la config del servidor.
	apikeyGenCmd := &cobra.Command{
		Use:   "generate",
		Short: "Generar una API key nueva (imprime plaintext y hash PHC)",
		RunE: func(cmd *cobra.Command, args []string) error {
			plain, phc, err := apikey.Generate(apikey.Default)
			if err != nil {
				return err
			}
			fmt.Printf("api_key: %s\n", plain)
			fmt.Printf("api_key_hash: %s\n", phc)
			fmt.Println("guardá el plaintext ahora: no se puede recuperar después")
			return nil
		},
	}
	apikeyCmd := &cobra.Command{Use: "apikey", Short: "Gestión de API keys"}
	apikeyCmd.AddCommand(apikeyGenCmd)

	root.AddCommand(pingCmd)
	root.AddCommand(usersCmd)
	root.AddCommand(attemptsCmd)
	root.AddCommand(statsCmd)
	root.AddCommand(apikeyCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

func envOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
