package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"apprentice/internal/align"
	"apprentice/internal/config"
	"apprentice/internal/decode"
	"apprentice/internal/distill"
	"apprentice/internal/engine"
	"apprentice/internal/finetune"
	"apprentice/internal/llm"
	"apprentice/internal/store"
)

var callInputs []string

var callCmd = &cobra.Command{
	Use:   "call <suite.yaml>",
	Short: "Invoke a declared function once",
	Long: `Loads the signature from a suite file and invokes it with the given
inputs. Each --input is a JSON value matching the corresponding input
descriptor, in declaration order. The decoded output is printed as JSON.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		suite, err := align.LoadSuite(args[0])
		if err != nil {
			return err
		}
		sig := suite.Signature

		if len(callInputs) != len(sig.Inputs) {
			return fmt.Errorf("%s expects %d inputs, got %d", sig.Name, len(sig.Inputs), len(callInputs))
		}
		inputs := make([]any, len(callInputs))
		for i, raw := range callInputs {
			v, err := decode.Decode(raw, sig.Inputs[i])
			if err != nil {
				return fmt.Errorf("input %d: %w", i, err)
			}
			inputs[i] = v
		}

		st, err := store.Open(cfg.StorePath)
		if err != nil {
			return err
		}
		defer st.Close()

		client, err := llm.New(cmd.Context(), cfg.LLM)
		if err != nil {
			return err
		}

		teacher := cfg.LLM.TeacherModel
		if teacher == "" {
			teacher = llm.DefaultTeacherModel(cfg.LLM.Provider)
		}
		router := distill.NewRouter(st, teacher)
		sched := distill.NewScheduler(st, newTuner(cfg), distillConfig(cfg))
		defer sched.Close()

		eng := engine.New(st, client, router, sched, cfg.Engine)
		handle, err := eng.Register(sig)
		if err != nil {
			return err
		}

		value, err := handle.Call(cmd.Context(), inputs...)
		if err != nil {
			return err
		}

		out, err := decode.Encode(value, sig.Output)
		if err != nil {
			return err
		}
		fmt.Println(out)
		return nil
	},
}

// newTuner builds the fine-tuning backend. Fine-tuning runs on OpenAI
// regardless of the inference provider; the key falls back to the
// environment when the configured provider differs.
func newTuner(cfg config.Config) finetune.Tuner {
	key := cfg.LLM.APIKey
	if cfg.LLM.Provider != "openai" {
		if env := os.Getenv("OPENAI_API_KEY"); env != "" {
			key = env
		}
	}
	return finetune.NewOpenAITuner(key, "", cfg.LLM.Timeout)
}

func distillConfig(cfg config.Config) distill.Config {
	return distill.Config{
		MinTrainingRecords: int64(cfg.Distill.MinTrainingRecords),
		FailureWindow:      cfg.Distill.FailureWindow,
		FailureThreshold:   cfg.Distill.FailureThreshold,
		MinFailureSamples:  int64(cfg.Distill.MinFailureSamples),
		PollInterval:       cfg.Distill.PollInterval,
		BaseModel:          "gpt-4o-mini-2024-07-18",
	}
}

func init() {
	callCmd.Flags().StringArrayVar(&callInputs, "input", nil, "JSON input value (repeatable, declaration order)")
	rootCmd.AddCommand(callCmd)
}
